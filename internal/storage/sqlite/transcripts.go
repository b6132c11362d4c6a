package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rsavary/classnote/pkg/logger"
)

// TranscriptSegment is a timed span of transcribed text
type TranscriptSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// TranscriptRecord represents the full transcript of a recording
type TranscriptRecord struct {
	RecordingID string              `json:"recording_id"`
	Text        string              `json:"text"`
	Paragraphs  []string            `json:"paragraphs"`
	Segments    []TranscriptSegment `json:"segments"`
	Language    string              `json:"language,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
}

// TranscriptStorage handles storage of transcripts and live transcript snapshots
type TranscriptStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewTranscriptStorage creates a new SQLite transcript storage
func NewTranscriptStorage(db *sql.DB, log *logger.Logger) *TranscriptStorage {
	storage := &TranscriptStorage{
		db:     db,
		logger: log.Named("sqlite-transcripts"),
	}

	// Initialize database
	if err := storage.initDB(); err != nil {
		storage.logger.Error("Failed to initialize transcript storage", logger.Error(err))
	}

	return storage
}

// initDB initializes the database tables
func (s *TranscriptStorage) initDB() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS transcripts (
			recording_id TEXT PRIMARY KEY,
			text TEXT NOT NULL,
			paragraphs TEXT,
			segments TEXT,
			language TEXT,
			created_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create transcripts table: %w", err)
	}

	// Live snapshots written periodically while a capture session is running
	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS live_transcripts (
			recording_id TEXT PRIMARY KEY,
			text TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create live_transcripts table: %w", err)
	}

	return nil
}

// StoreTranscript stores (or replaces) the transcript for a recording
func (s *TranscriptStorage) StoreTranscript(record *TranscriptRecord) error {
	paragraphs, err := json.Marshal(record.Paragraphs)
	if err != nil {
		return fmt.Errorf("failed to marshal paragraphs: %w", err)
	}
	segments, err := json.Marshal(record.Segments)
	if err != nil {
		return fmt.Errorf("failed to marshal segments: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO transcripts (recording_id, text, paragraphs, segments, language, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(recording_id) DO UPDATE SET
			text = excluded.text,
			paragraphs = excluded.paragraphs,
			segments = excluded.segments,
			language = excluded.language`,
		record.RecordingID,
		record.Text,
		string(paragraphs),
		string(segments),
		record.Language,
		record.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert transcript: %w", err)
	}

	return nil
}

// GetTranscript returns the transcript for a recording, or nil when absent
func (s *TranscriptStorage) GetTranscript(recordingID string) (*TranscriptRecord, error) {
	var record TranscriptRecord
	var paragraphs, segments, language sql.NullString
	var createdAt string

	err := s.db.QueryRow(
		`SELECT recording_id, text, paragraphs, segments, language, created_at
		FROM transcripts
		WHERE recording_id = ?`,
		recordingID,
	).Scan(&record.RecordingID, &record.Text, &paragraphs, &segments, &language, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query transcript: %w", err)
	}

	if paragraphs.Valid && paragraphs.String != "" {
		if err := json.Unmarshal([]byte(paragraphs.String), &record.Paragraphs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal paragraphs: %w", err)
		}
	}
	if segments.Valid && segments.String != "" {
		if err := json.Unmarshal([]byte(segments.String), &record.Segments); err != nil {
			return nil, fmt.Errorf("failed to unmarshal segments: %w", err)
		}
	}
	if language.Valid {
		record.Language = language.String
	}

	record.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}

	return &record, nil
}

// SaveLiveTranscript upserts the live transcript snapshot for a recording
func (s *TranscriptStorage) SaveLiveTranscript(recordingID, text string) error {
	_, err := s.db.Exec(
		`INSERT INTO live_transcripts (recording_id, text, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(recording_id) DO UPDATE SET
			text = excluded.text,
			updated_at = excluded.updated_at`,
		recordingID,
		text,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save live transcript: %w", err)
	}

	return nil
}

// GetLiveTranscript returns the latest live transcript snapshot, or empty string
func (s *TranscriptStorage) GetLiveTranscript(recordingID string) (string, error) {
	var text string
	err := s.db.QueryRow(
		`SELECT text FROM live_transcripts WHERE recording_id = ?`,
		recordingID,
	).Scan(&text)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query live transcript: %w", err)
	}

	return text, nil
}

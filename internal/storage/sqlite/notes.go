package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rsavary/classnote/pkg/logger"
)

// NotesRecord represents generated structured notes for a recording.
// The structured columns hold JSON serialized by the notes package.
type NotesRecord struct {
	RecordingID    string    `json:"recording_id"`
	SummaryBullets string    `json:"summary_bullets"`
	NotesMarkdown  string    `json:"notes_markdown"`
	WebLinks       string    `json:"web_links"`
	Quiz           string    `json:"quiz"`
	CreatedAt      time.Time `json:"created_at"`
}

// EnhancementRecord represents a single transcript enhancement result
type EnhancementRecord struct {
	ID          int64     `json:"id"`
	RecordingID string    `json:"recording_id"`
	Type        string    `json:"type"`
	InputText   string    `json:"input_text"`
	OutputText  string    `json:"output_text"`
	CreatedAt   time.Time `json:"created_at"`
}

// NotesStorage handles storage of generated notes and enhancements
type NotesStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewNotesStorage creates a new SQLite notes storage
func NewNotesStorage(db *sql.DB, log *logger.Logger) *NotesStorage {
	storage := &NotesStorage{
		db:     db,
		logger: log.Named("sqlite-notes"),
	}

	// Initialize database
	if err := storage.initDB(); err != nil {
		storage.logger.Error("Failed to initialize notes storage", logger.Error(err))
	}

	return storage
}

// initDB initializes the database tables
func (s *NotesStorage) initDB() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS ai_notes (
			recording_id TEXT PRIMARY KEY,
			summary_bullets TEXT,
			notes_markdown TEXT NOT NULL,
			web_links TEXT,
			quiz TEXT,
			created_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create ai_notes table: %w", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS ai_enhancements (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			recording_id TEXT NOT NULL,
			type TEXT NOT NULL,
			input_text TEXT NOT NULL,
			output_text TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create ai_enhancements table: %w", err)
	}

	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_enhancements_recording ON ai_enhancements(recording_id, type)`)
	if err != nil {
		return fmt.Errorf("failed to create enhancements index: %w", err)
	}

	return nil
}

// StoreNotes stores (or replaces) the generated notes for a recording
func (s *NotesStorage) StoreNotes(record *NotesRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO ai_notes (recording_id, summary_bullets, notes_markdown, web_links, quiz, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(recording_id) DO UPDATE SET
			summary_bullets = excluded.summary_bullets,
			notes_markdown = excluded.notes_markdown,
			web_links = excluded.web_links,
			quiz = excluded.quiz`,
		record.RecordingID,
		record.SummaryBullets,
		record.NotesMarkdown,
		record.WebLinks,
		record.Quiz,
		record.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert notes: %w", err)
	}

	return nil
}

// GetNotes returns the notes for a recording, or nil when absent
func (s *NotesStorage) GetNotes(recordingID string) (*NotesRecord, error) {
	var record NotesRecord
	var summaryBullets, webLinks, quiz sql.NullString
	var createdAt string

	err := s.db.QueryRow(
		`SELECT recording_id, summary_bullets, notes_markdown, web_links, quiz, created_at
		FROM ai_notes
		WHERE recording_id = ?`,
		recordingID,
	).Scan(&record.RecordingID, &summaryBullets, &record.NotesMarkdown, &webLinks, &quiz, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query notes: %w", err)
	}

	if summaryBullets.Valid {
		record.SummaryBullets = summaryBullets.String
	}
	if webLinks.Valid {
		record.WebLinks = webLinks.String
	}
	if quiz.Valid {
		record.Quiz = quiz.String
	}

	record.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}

	return &record, nil
}

// StoreEnhancement stores a single enhancement result
func (s *NotesStorage) StoreEnhancement(record *EnhancementRecord) (int64, error) {
	result, err := s.db.Exec(
		`INSERT INTO ai_enhancements (recording_id, type, input_text, output_text, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		record.RecordingID,
		record.Type,
		record.InputText,
		record.OutputText,
		record.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert enhancement: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}

	return id, nil
}

// GetEnhancements returns all enhancements for a recording, newest first
func (s *NotesStorage) GetEnhancements(recordingID string) ([]*EnhancementRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, recording_id, type, input_text, output_text, created_at
		FROM ai_enhancements
		WHERE recording_id = ?
		ORDER BY created_at DESC`,
		recordingID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query enhancements: %w", err)
	}
	defer rows.Close()

	var records []*EnhancementRecord
	for rows.Next() {
		var record EnhancementRecord
		var createdAt string

		if err := rows.Scan(
			&record.ID,
			&record.RecordingID,
			&record.Type,
			&record.InputText,
			&record.OutputText,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan enhancement: %w", err)
		}

		record.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}

		records = append(records, &record)
	}

	return records, nil
}

package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rsavary/classnote/pkg/logger"

	_ "modernc.org/sqlite"
)

// Recording lifecycle statuses
const (
	StatusRecording  = "Recording"
	StatusProcessing = "Processing"
	StatusReady      = "Ready"
	StatusFlagged    = "Flagged"
)

// RecordingRecord represents a recording row in the database
type RecordingRecord struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Course        string    `json:"course"`
	DurationLabel string    `json:"duration"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// RecordingStorage handles storage of recording records and owns the
// database connection shared by the other stores
type RecordingStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewRecordingStorage opens the SQLite database and creates the recordings store
func NewRecordingStorage(dbPath string, log *logger.Logger) (*RecordingStorage, error) {
	storageLogger := log.Named("sqlite")

	storageLogger.Info("Initializing SQLite storage",
		logger.String("path", dbPath))

	// Open the database
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool limits
	db.SetMaxOpenConns(1) // SQLite only supports one writer at a time
	db.SetMaxIdleConns(1)

	// Set pragmas for better performance and concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to set journal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	storage := &RecordingStorage{
		db:     db,
		logger: storageLogger,
	}

	if err := storage.initDB(); err != nil {
		db.Close()
		return nil, err
	}

	return storage, nil
}

// Close closes the database connection
func (s *RecordingStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// GetDB returns the database connection
func (s *RecordingStorage) GetDB() *sql.DB {
	return s.db
}

// initDB initializes the database tables
func (s *RecordingStorage) initDB() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS recordings (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			course TEXT NOT NULL,
			duration_label TEXT,
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create recordings table: %w", err)
	}

	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_recordings_status ON recordings(status)`)
	if err != nil {
		return fmt.Errorf("failed to create status index: %w", err)
	}

	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_recordings_created_at ON recordings(created_at)`)
	if err != nil {
		return fmt.Errorf("failed to create created_at index: %w", err)
	}

	return nil
}

// CreateRecording inserts a new recording record
func (s *RecordingStorage) CreateRecording(record *RecordingRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO recordings
		(id, title, course, duration_label, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.Title,
		record.Course,
		record.DurationLabel,
		record.Status,
		record.CreatedAt.Format(time.RFC3339),
		record.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert recording: %w", err)
	}

	return nil
}

// GetRecordingByID returns a single recording, or nil when not found
func (s *RecordingStorage) GetRecordingByID(id string) (*RecordingRecord, error) {
	row := s.db.QueryRow(
		`SELECT id, title, course, duration_label, status, created_at, updated_at
		FROM recordings
		WHERE id = ?`,
		id,
	)

	record, err := scanRecording(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query recording: %w", err)
	}

	return record, nil
}

// GetRecordings returns recordings with pagination, newest first.
// An empty status matches all statuses.
func (s *RecordingStorage) GetRecordings(limit, offset int, status string) ([]*RecordingRecord, error) {
	query := `SELECT id, title, course, duration_label, status, created_at, updated_at
		FROM recordings`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recordings: %w", err)
	}
	defer rows.Close()

	var records []*RecordingRecord
	for rows.Next() {
		record, err := scanRecording(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recording: %w", err)
		}
		records = append(records, record)
	}

	return records, nil
}

// CountRecordings returns the total number of recordings matching the status filter
func (s *RecordingStorage) CountRecordings(status string) (int, error) {
	query := `SELECT COUNT(*) FROM recordings`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}

	var count int
	if err := s.db.QueryRow(query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count recordings: %w", err)
	}

	return count, nil
}

// UpdateRecordingStatus updates the status of a recording
func (s *RecordingStorage) UpdateRecordingStatus(id, status string) error {
	result, err := s.db.Exec(
		`UPDATE recordings SET status = ?, updated_at = ? WHERE id = ?`,
		status,
		time.Now().UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to update recording status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("recording not found: %s", id)
	}

	return nil
}

// FinalizeRecording sets the title and duration captured when a session stops
func (s *RecordingStorage) FinalizeRecording(id, title, durationLabel string) error {
	result, err := s.db.Exec(
		`UPDATE recordings SET title = ?, duration_label = ?, updated_at = ? WHERE id = ?`,
		title,
		durationLabel,
		time.Now().UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize recording: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("recording not found: %s", id)
	}

	return nil
}

// DeleteRecording removes a recording and all of its dependent rows
// in a single transaction
func (s *RecordingStorage) DeleteRecording(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"ai_enhancements", "ai_notes", "live_transcripts", "transcripts"} {
		if _, err := tx.Exec(fmt.Sprintf("DELETE FROM %s WHERE recording_id = ?", table), id); err != nil {
			return fmt.Errorf("failed to delete from %s: %w", table, err)
		}
	}

	result, err := tx.Exec("DELETE FROM recordings WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete recording: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("recording not found: %s", id)
	}

	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecording(row rowScanner) (*RecordingRecord, error) {
	var record RecordingRecord
	var durationLabel sql.NullString
	var createdAt, updatedAt string

	if err := row.Scan(
		&record.ID,
		&record.Title,
		&record.Course,
		&durationLabel,
		&record.Status,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	if durationLabel.Valid {
		record.DurationLabel = durationLabel.String
	}

	var err error
	record.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	record.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}

	return &record, nil
}

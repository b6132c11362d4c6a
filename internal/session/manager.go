package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rsavary/classnote/internal/audio"
	"github.com/rsavary/classnote/internal/capture"
	"github.com/rsavary/classnote/internal/config"
	"github.com/rsavary/classnote/internal/storage/sqlite"
	"github.com/rsavary/classnote/pkg/logger"
)

// Manager enforces a single active recording session per server and
// keeps the recordings table in step with the session lifecycle
type Manager struct {
	cfg         *config.Config
	recordings  *sqlite.RecordingStorage
	transcripts *sqlite.TranscriptStorage
	notifier    capture.Notifier
	logger      *logger.Logger

	mu     sync.Mutex
	active *Controller
}

// NewManager creates a session manager
func NewManager(cfg *config.Config, recordings *sqlite.RecordingStorage, transcripts *sqlite.TranscriptStorage, notifier capture.Notifier, log *logger.Logger) *Manager {
	return &Manager{
		cfg:         cfg,
		recordings:  recordings,
		transcripts: transcripts,
		notifier:    notifier,
		logger:      log.Named("session-manager"),
	}
}

// StartSession starts a new recording session. The recognizer drives
// live speech capture and may be nil for audio-only sessions. Returns
// ErrSessionActive when another session is still live.
func (m *Manager) StartSession(ctx context.Context, course string, source audio.Source, recognizer capture.Recognizer) (*Controller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		state := m.active.State()
		if state == StateRecording || state == StatePaused {
			return nil, ErrSessionActive
		}
	}

	if course == "" {
		course = m.cfg.Recording.DefaultCourse
	}

	id := uuid.New().String()

	var captureCtrl *capture.Controller
	if recognizer != nil {
		captureCtrl = capture.NewController(id, recognizer, m.cfg.Capture, m.transcripts, m.notifier, m.logger)
	}

	ctrl := NewController(id, course, source, captureCtrl, m.cfg.Recording, m.logger)
	if err := ctrl.Start(ctx); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	record := &sqlite.RecordingRecord{
		ID:        id,
		Title:     "Untitled lecture",
		Course:    course,
		Status:    sqlite.StatusRecording,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.recordings.CreateRecording(record); err != nil {
		ctrl.Abort()
		return nil, err
	}

	m.active = ctrl
	m.logger.Info("Session started",
		logger.String("recording_id", id),
		logger.String("course", course))

	return ctrl, nil
}

// Active returns the current session, or nil
func (m *Manager) Active() *Controller {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// StopSession stops the active session, finalizes the recording row,
// and persists the live transcript when one was captured
func (m *Manager) StopSession(title string) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return nil, ErrNoActiveSession
	}

	result, err := m.active.Stop(title)
	if err != nil {
		// Precondition failures leave the session live and retryable
		return nil, err
	}
	m.active = nil

	if err := m.recordings.FinalizeRecording(result.ID, result.Title, result.DurationLabel); err != nil {
		m.logger.Error("Failed to finalize recording row", logger.Error(err))
	}

	if result.LiveTranscript != "" {
		if err := m.transcripts.SaveLiveTranscript(result.ID, result.LiveTranscript); err != nil {
			m.logger.Warn("Failed to persist live transcript", logger.Error(err))
		}
	}

	return result, nil
}

// AbortActive tears down any live session, for server shutdown
func (m *Manager) AbortActive() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		m.active.Abort()
		m.active = nil
	}
}

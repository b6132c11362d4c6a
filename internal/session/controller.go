package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rsavary/classnote/internal/audio"
	"github.com/rsavary/classnote/internal/capture"
	"github.com/rsavary/classnote/internal/config"
	"github.com/rsavary/classnote/pkg/logger"
)

// Controller runs one recording session from first chunk to final blob
type Controller struct {
	id      string
	course  string
	cfg     config.RecordingConfig
	source  audio.Source
	capture *capture.Controller
	logger  *logger.Logger

	mu         sync.Mutex
	state      State
	elapsed    int
	markers    []Marker
	stream     audio.Stream
	recorder   *audio.Recorder
	stopTicker chan struct{}
}

// NewController creates a session controller in the Idle state.
// The capture controller is optional; sessions without live speech
// capture still record audio for later transcription.
func NewController(id, course string, source audio.Source, captureCtrl *capture.Controller, cfg config.RecordingConfig, log *logger.Logger) *Controller {
	return &Controller{
		id:      id,
		course:  course,
		cfg:     cfg,
		source:  source,
		capture: captureCtrl,
		logger:  log.Named("session").With(logger.String("recording_id", id)),
		state:   StateIdle,
	}
}

// ID returns the recording ID this session writes to
func (c *Controller) ID() string {
	return c.id
}

// Capture returns the speech capture controller, nil when the session
// records audio only
func (c *Controller) Capture() *capture.Controller {
	return c.capture
}

// State returns the current session state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Elapsed returns the logical elapsed seconds
func (c *Controller) Elapsed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.elapsed
}

// Markers returns a copy of the markers recorded so far
func (c *Controller) Markers() []Marker {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Marker, len(c.markers))
	copy(out, c.markers)
	return out
}

// Start acquires the audio stream and transitions Idle -> Recording.
// When acquisition fails the session stays Idle holding no resources.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle {
		return fmt.Errorf("%w: cannot start from %s", ErrInvalidState, c.state)
	}

	stream, err := c.source.Acquire(ctx)
	if err != nil {
		c.logger.Warn("Audio stream acquisition failed", logger.Error(err))
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}

	c.stream = stream
	c.recorder = audio.NewRecorder(stream, c.logger)
	c.state = StateRecording
	c.elapsed = 0
	c.stopTicker = make(chan struct{})
	go c.runTicker(c.stopTicker)

	if c.capture != nil {
		if err := c.capture.Start(); err != nil {
			c.logger.Warn("Speech capture failed to start", logger.Error(err))
		}
	}

	c.logger.Info("Recording started")
	return nil
}

func (c *Controller) runTicker(stop chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.tick()
		case <-stop:
			return
		}
	}
}

// tick advances the logical clock by one second while recording
func (c *Controller) tick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateRecording {
		c.elapsed++
	}
}

// Pause transitions Recording -> Paused. Chunk intake, speech capture,
// and the elapsed timer all suspend together; nothing spoken during a
// pause reaches the audio blob or the transcript.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRecording {
		return fmt.Errorf("%w: cannot pause from %s", ErrInvalidState, c.state)
	}

	c.state = StatePaused
	c.stream.Pause()
	if c.capture != nil {
		c.capture.Suspend()
	}
	c.logger.Info("Recording paused", logger.Int("elapsed_seconds", c.elapsed))
	return nil
}

// Resume transitions Paused -> Recording, reopening chunk intake and
// restarting speech capture
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StatePaused {
		return fmt.Errorf("%w: cannot resume from %s", ErrInvalidState, c.state)
	}

	c.state = StateRecording
	c.stream.Resume()
	if c.capture != nil {
		c.capture.Resume()
	}
	c.logger.Info("Recording resumed", logger.Int("elapsed_seconds", c.elapsed))
	return nil
}

// AddMarker records a timeline marker at the current logical elapsed
// time. Valid while Recording or Paused; a marker added during a pause
// carries the elapsed value frozen at pause time.
func (c *Controller) AddMarker(kind MarkerKind) (Marker, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRecording && c.state != StatePaused {
		return Marker{}, fmt.Errorf("%w: cannot add marker from %s", ErrInvalidState, c.state)
	}
	if _, err := ParseMarkerKind(string(kind)); err != nil {
		return Marker{}, err
	}
	if c.cfg.MaxMarkers > 0 && len(c.markers) >= c.cfg.MaxMarkers {
		return Marker{}, ErrTooManyMarkers
	}

	marker := Marker{ElapsedSeconds: c.elapsed, Kind: kind}
	c.markers = append(c.markers, marker)

	c.logger.Debug("Marker added",
		logger.String("kind", string(kind)),
		logger.Int("elapsed_seconds", c.elapsed))

	return marker, nil
}

// Stop finalizes the session. Both preconditions are checked before any
// state changes: an empty title or a session with no captured audio
// leaves the session exactly as it was, device still held, so the
// caller can correct and retry.
func (c *Controller) Stop(title string) (*Result, error) {
	c.mu.Lock()

	if c.state != StateRecording && c.state != StatePaused {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot stop from %s", ErrInvalidState, c.state)
	}

	title = strings.TrimSpace(title)
	if title == "" {
		c.mu.Unlock()
		return nil, ErrInvalidTitle
	}
	if c.recorder.ChunkCount() == 0 {
		c.mu.Unlock()
		return nil, ErrNoAudio
	}

	c.state = StateStopped
	close(c.stopTicker)
	stream := c.stream
	recorder := c.recorder
	elapsed := c.elapsed
	markers := make([]Marker, len(c.markers))
	copy(markers, c.markers)
	c.mu.Unlock()

	// Release the device, then wait for the drain goroutine to finish
	// so the blob includes every chunk
	if err := stream.Close(); err != nil {
		c.logger.Warn("Failed to close audio stream", logger.Error(err))
	}
	recorder.Wait()

	var transcript string
	if c.capture != nil {
		c.capture.Stop()
		transcript = c.capture.Snapshot()
	}

	result := &Result{
		ID:             c.id,
		Title:          title,
		Course:         c.course,
		DurationLabel:  FormatDuration(elapsed),
		Audio:          recorder.Blob(),
		Markers:        markers,
		LiveTranscript: transcript,
	}

	c.logger.Info("Recording stopped",
		logger.String("title", title),
		logger.String("duration", result.DurationLabel),
		logger.Int("markers", len(markers)),
		logger.Int("audio_bytes", len(result.Audio)))

	return result, nil
}

// Abort tears the session down without producing a result, for
// server shutdown while a session is live
func (c *Controller) Abort() {
	c.mu.Lock()
	if c.state != StateRecording && c.state != StatePaused {
		c.mu.Unlock()
		return
	}
	c.state = StateStopped
	close(c.stopTicker)
	stream := c.stream
	c.mu.Unlock()

	if c.capture != nil {
		c.capture.Stop()
	}
	if err := stream.Close(); err != nil {
		c.logger.Warn("Failed to close audio stream on abort", logger.Error(err))
	}

	c.logger.Info("Recording aborted")
}

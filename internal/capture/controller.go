package capture

import (
	"sync"
	"time"

	"github.com/rsavary/classnote/internal/config"
	"github.com/rsavary/classnote/pkg/logger"
)

// Controller drives a Recognizer through the restart cycle continuous
// recognition requires. Engines stop sending results without erroring,
// end sessions silently, and cap session length; the controller watches
// for all three and restarts the engine before the transcript suffers.
type Controller struct {
	recordingID string
	recognizer  Recognizer
	persister   Persister
	notifier    Notifier
	cfg         config.CaptureConfig
	logger      *logger.Logger

	mu            sync.Mutex
	active        bool
	suspended     bool
	buffer        TranscriptBuffer
	lastResultAt  time.Time
	cycleDeadline time.Time
	lastPersisted int
	cancelRestart func()
	stopWatchdog  chan struct{}

	// Injected for deterministic tests
	now      func() time.Time
	schedule func(d time.Duration, f func()) func()
}

// NewController creates a capture controller for one recording session
func NewController(recordingID string, recognizer Recognizer, cfg config.CaptureConfig, persister Persister, notifier Notifier, log *logger.Logger) *Controller {
	return &Controller{
		recordingID: recordingID,
		recognizer:  recognizer,
		persister:   persister,
		notifier:    notifier,
		cfg:         cfg,
		logger:      log.Named("capture-controller"),
		now:         time.Now,
		schedule: func(d time.Duration, f func()) func() {
			timer := time.AfterFunc(d, f)
			return func() { timer.Stop() }
		},
	}
}

// Start begins recognition and arms the watchdog
func (c *Controller) Start() error {
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return nil
	}
	c.active = true
	now := c.now()
	c.lastResultAt = now
	c.cycleDeadline = now.Add(time.Duration(c.cfg.CycleSeconds) * time.Second)
	c.stopWatchdog = make(chan struct{})
	stop := c.stopWatchdog
	c.mu.Unlock()

	if err := c.recognizer.Start(); err != nil {
		c.logger.Error("Failed to start recognizer", logger.Error(err))
		// The watchdog will retry; recognition engines fail transiently
	}

	go c.runWatchdog(stop)

	c.logger.Info("Capture started",
		logger.String("recording_id", c.recordingID),
		logger.Int("cycle_seconds", c.cfg.CycleSeconds))

	return nil
}

func (c *Controller) runWatchdog(stop chan struct{}) {
	ticker := time.NewTicker(time.Duration(c.cfg.WatchdogIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.WatchdogTick()
		case <-stop:
			return
		}
	}
}

// OnResult handles a batch of recognition results from the engine.
// Final results append to the transcript with a trailing separator and
// clear the interim hypothesis; non-final results replace it.
func (c *Controller) OnResult(results []Result) {
	c.mu.Lock()
	if !c.active || c.suspended {
		c.mu.Unlock()
		return
	}
	c.lastResultAt = c.now()

	var persistText string
	var hadFinal bool
	for _, result := range results {
		if result.IsFinal {
			c.buffer.AppendFinal(result.Transcript)
			hadFinal = true
		} else {
			c.buffer.SetInterim(result.Transcript)
		}
	}

	final := c.buffer.Final()
	if len(final)-c.lastPersisted >= c.cfg.PersistEveryChars {
		c.lastPersisted = len(final)
		persistText = final
	}
	snapshot := c.buffer.Snapshot()
	c.mu.Unlock()

	if persistText != "" && c.persister != nil {
		// Best effort; a failed snapshot must not interrupt capture
		if err := c.persister.SaveLiveTranscript(c.recordingID, persistText); err != nil {
			c.logger.Warn("Failed to persist live transcript", logger.Error(err))
		}
	}

	if c.notifier != nil {
		c.notifier.TranscriptUpdate(c.recordingID, snapshot, hadFinal)
	}
}

// OnError handles an engine error. No error propagates past this point:
// every kind either triggers a restart or is logged and dropped.
func (c *Controller) OnError(kind ErrorKind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active || c.suspended {
		return
	}

	switch kind {
	case ErrNoSpeech:
		// Benign; the engine gives up on silence long before the lecture does
		c.restartLocked(0)
	case ErrAborted, ErrNetwork, ErrAudioCapture:
		c.logger.Warn("Recognition error, restarting after delay",
			logger.String("kind", string(kind)),
			logger.Int("delay_ms", c.cfg.RestartDelayMs))
		c.restartLocked(time.Duration(c.cfg.RestartDelayMs) * time.Millisecond)
	default:
		c.logger.Warn("Unhandled recognition error", logger.String("kind", string(kind)))
	}
}

// OnEnd handles the engine ending its session. Engines end silently
// mid-session; if capture is still live the engine is restarted. After
// Stop() a late OnEnd is a no-op.
func (c *Controller) OnEnd() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active || c.suspended {
		return
	}

	c.logger.Debug("Recognition ended, restarting")
	if err := c.recognizer.Start(); err != nil {
		c.logger.Error("Failed to restart recognizer after end", logger.Error(err))
	}
}

// WatchdogTick checks for a stalled engine and for the hard cycle
// deadline. A tick with fresh results and an unexpired deadline does
// nothing; when both conditions trip at once a single restart is issued.
func (c *Controller) WatchdogTick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active || c.suspended {
		return
	}

	now := c.now()
	stalled := now.Sub(c.lastResultAt) > time.Duration(c.cfg.StallTimeoutMs)*time.Millisecond
	cycled := !now.Before(c.cycleDeadline)

	if !stalled && !cycled {
		return
	}

	if stalled {
		c.logger.Warn("No recognition results, forcing restart",
			logger.Duration("since_last_result", now.Sub(c.lastResultAt)))
	}
	if cycled {
		c.cycleDeadline = now.Add(time.Duration(c.cfg.CycleSeconds) * time.Second)
		c.logger.Debug("Recognition cycle deadline reached, restarting",
			logger.Time("next_deadline", c.cycleDeadline))
	}

	c.lastResultAt = now
	c.restartLocked(0)
}

// restartLocked stops the engine and starts it again, either
// immediately or after the given delay. Callers hold c.mu.
func (c *Controller) restartLocked(delay time.Duration) {
	if c.cancelRestart != nil {
		c.cancelRestart()
		c.cancelRestart = nil
	}

	if err := c.recognizer.Stop(); err != nil {
		c.logger.Debug("Recognizer stop before restart failed", logger.Error(err))
	}

	if delay <= 0 {
		if err := c.recognizer.Start(); err != nil {
			c.logger.Error("Failed to restart recognizer", logger.Error(err))
		}
		return
	}

	c.cancelRestart = c.schedule(delay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if !c.active || c.suspended {
			return
		}
		c.cancelRestart = nil
		if err := c.recognizer.Start(); err != nil {
			c.logger.Error("Failed to restart recognizer", logger.Error(err))
		}
	})
}

// Suspend halts the engine and the watchdog while the recording session
// is paused. The transcript buffer survives intact; engine events
// arriving during the suspension are dropped so words spoken during a
// pause never reach the transcript.
func (c *Controller) Suspend() {
	c.mu.Lock()
	if !c.active || c.suspended {
		c.mu.Unlock()
		return
	}
	c.suspended = true
	if c.cancelRestart != nil {
		c.cancelRestart()
		c.cancelRestart = nil
	}
	if c.stopWatchdog != nil {
		close(c.stopWatchdog)
		c.stopWatchdog = nil
	}
	c.mu.Unlock()

	if err := c.recognizer.Stop(); err != nil {
		c.logger.Debug("Recognizer stop on suspend failed", logger.Error(err))
	}

	c.logger.Info("Capture suspended",
		logger.String("recording_id", c.recordingID))
}

// Resume restarts the engine and rearms the watchdog after a Suspend.
// The stall clock and cycle deadline restart from now so the pause
// itself never reads as a stall.
func (c *Controller) Resume() {
	c.mu.Lock()
	if !c.active || !c.suspended {
		c.mu.Unlock()
		return
	}
	c.suspended = false
	now := c.now()
	c.lastResultAt = now
	c.cycleDeadline = now.Add(time.Duration(c.cfg.CycleSeconds) * time.Second)
	c.stopWatchdog = make(chan struct{})
	stop := c.stopWatchdog
	c.mu.Unlock()

	if err := c.recognizer.Start(); err != nil {
		c.logger.Error("Failed to restart recognizer on resume", logger.Error(err))
	}
	go c.runWatchdog(stop)

	c.logger.Info("Capture resumed",
		logger.String("recording_id", c.recordingID))
}

// Stop ends capture permanently. Any pending restart is cancelled, the
// watchdog is dismantled, and the live transcript gets a final snapshot.
// All engine events arriving after Stop are ignored.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.active = false
	if c.cancelRestart != nil {
		c.cancelRestart()
		c.cancelRestart = nil
	}
	if c.stopWatchdog != nil {
		close(c.stopWatchdog)
		c.stopWatchdog = nil
	}
	final := c.buffer.Final()
	c.mu.Unlock()

	if err := c.recognizer.Stop(); err != nil {
		c.logger.Debug("Recognizer stop failed", logger.Error(err))
	}

	if final != "" && c.persister != nil {
		if err := c.persister.SaveLiveTranscript(c.recordingID, final); err != nil {
			c.logger.Warn("Failed to persist final live transcript", logger.Error(err))
		}
	}

	c.logger.Info("Capture stopped",
		logger.String("recording_id", c.recordingID),
		logger.Int("final_chars", len(final)))
}

// FinalText returns the accumulated finalized transcript
func (c *Controller) FinalText() string {
	return c.buffer.Final()
}

// Snapshot returns the composed live transcript (final plus interim)
func (c *Controller) Snapshot() string {
	return c.buffer.Snapshot()
}

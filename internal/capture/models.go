// Package capture owns continuous speech recognition over an engine that
// stalls, errors, and ends sessions on its own schedule. The controller
// restarts the engine aggressively and accumulates the transcript.
package capture

import (
	"strings"
	"sync"
)

// Result is a single recognition result from the engine
type Result struct {
	Transcript string `json:"transcript"`
	IsFinal    bool   `json:"is_final"`
}

// ErrorKind classifies engine errors
type ErrorKind string

// Engine error kinds, mirroring the error codes speech engines report
const (
	ErrNoSpeech     ErrorKind = "no-speech"
	ErrAborted      ErrorKind = "aborted"
	ErrNetwork      ErrorKind = "network"
	ErrAudioCapture ErrorKind = "audio-capture"
	ErrNotAllowed   ErrorKind = "not-allowed"
	ErrOther        ErrorKind = "other"
)

// Recognizer is the control surface of a speech recognition engine.
// The production implementation relays control frames to a browser
// engine over a WebSocket; tests use an in-memory fake.
type Recognizer interface {
	Start() error
	Stop() error
}

// Persister stores live transcript snapshots while a session runs
type Persister interface {
	SaveLiveTranscript(recordingID, text string) error
}

// Notifier receives live transcript updates for connected clients
type Notifier interface {
	TranscriptUpdate(recordingID, text string, isFinal bool)
}

// TranscriptBuffer accumulates finalized text and holds the current
// interim hypothesis. Final text only grows; interim text is always
// replaced wholesale.
type TranscriptBuffer struct {
	mu      sync.RWMutex
	final   strings.Builder
	interim string
}

// AppendFinal appends finalized text with a trailing separator and
// clears the interim hypothesis
func (b *TranscriptBuffer) AppendFinal(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.final.WriteString(text)
	b.final.WriteString(" ")
	b.interim = ""
}

// SetInterim replaces the interim hypothesis
func (b *TranscriptBuffer) SetInterim(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.interim = text
}

// Final returns the accumulated finalized text
func (b *TranscriptBuffer) Final() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.final.String()
}

// Snapshot returns the composed live transcript (final plus interim)
func (b *TranscriptBuffer) Snapshot() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.final.String() + b.interim
}

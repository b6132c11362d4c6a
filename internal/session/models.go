// Package session implements the recording session state machine:
// Idle -> Recording <-> Paused -> Stopped. Markers and the duration
// label are derived from a logical elapsed-seconds counter that only
// advances while recording, never from wall-clock time.
package session

import (
	"errors"
	"fmt"
)

// State is a recording session lifecycle state
type State string

// Session states
const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StatePaused    State = "paused"
	StateStopped   State = "stopped"
)

// MarkerKind classifies a timeline marker
type MarkerKind string

// Marker kinds
const (
	MarkerKeyPoint   MarkerKind = "KeyPoint"
	MarkerAssignment MarkerKind = "Assignment"
	MarkerExamTip    MarkerKind = "ExamTip"
)

// ParseMarkerKind validates a marker kind received from a client
func ParseMarkerKind(s string) (MarkerKind, error) {
	switch MarkerKind(s) {
	case MarkerKeyPoint, MarkerAssignment, MarkerExamTip:
		return MarkerKind(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMarkerKind, s)
}

// Marker is a timestamped point of interest on the recording timeline
type Marker struct {
	ElapsedSeconds int        `json:"elapsed_seconds"`
	Kind           MarkerKind `json:"kind"`
}

// Result is the outcome of a successfully stopped session
type Result struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Course         string   `json:"course"`
	DurationLabel  string   `json:"duration"`
	Audio          []byte   `json:"-"`
	Markers        []Marker `json:"markers"`
	LiveTranscript string   `json:"live_transcript,omitempty"`
}

// Session errors
var (
	ErrPermissionDenied  = errors.New("audio permission denied")
	ErrInvalidState      = errors.New("operation not valid in current state")
	ErrInvalidTitle      = errors.New("recording title must not be empty")
	ErrNoAudio           = errors.New("no audio captured")
	ErrInvalidMarkerKind = errors.New("unknown marker kind")
	ErrSessionActive     = errors.New("a recording session is already active")
	ErrNoActiveSession   = errors.New("no active recording session")
	ErrTooManyMarkers    = errors.New("marker limit reached")
)

// FormatDuration renders a logical elapsed time as an MM:SS label
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

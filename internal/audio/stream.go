// Package audio provides the audio input seam for recording sessions.
// The production stream carries MediaRecorder chunks relayed from the
// browser over the WebSocket bridge; tests use in-memory fakes.
package audio

import (
	"context"
	"sync"

	"github.com/rsavary/classnote/pkg/logger"
)

// Source acquires an audio stream for a recording session
type Source interface {
	Acquire(ctx context.Context) (Stream, error)
}

// Stream is a live audio chunk stream with pause gating.
// Close releases the underlying device exactly once.
type Stream interface {
	Chunks() <-chan []byte
	Pause()
	Resume()
	Close() error
}

// BridgeStream is a Stream fed by an external producer (the WebSocket
// capture bridge). Chunks pushed while paused are dropped, matching a
// paused MediaRecorder producing no data.
type BridgeStream struct {
	mu     sync.Mutex
	chunks chan []byte
	paused bool
	closed bool
	logger *logger.Logger
}

// NewBridgeStream creates a bridge stream with a buffered chunk channel
func NewBridgeStream(log *logger.Logger) *BridgeStream {
	return &BridgeStream{
		chunks: make(chan []byte, 64),
		logger: log.Named("bridge-stream"),
	}
}

// Push delivers one audio chunk into the stream. Chunks are dropped
// while the stream is paused or after it is closed, and when the
// consumer falls too far behind.
func (s *BridgeStream) Push(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.paused {
		return
	}

	select {
	case s.chunks <- chunk:
	default:
		s.logger.Warn("Dropping audio chunk, consumer too slow",
			logger.Int("bytes", len(chunk)))
	}
}

// Chunks returns the chunk channel; it is closed when the stream closes
func (s *BridgeStream) Chunks() <-chan []byte {
	return s.chunks
}

// Pause gates chunk intake
func (s *BridgeStream) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
}

// Resume reopens chunk intake
func (s *BridgeStream) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
}

// Close closes the stream and its chunk channel. Safe to call once.
func (s *BridgeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.chunks)
	return nil
}

// BridgeSource hands out a single BridgeStream prepared by the
// WebSocket bridge for the session being started
type BridgeSource struct {
	stream *BridgeStream
}

// NewBridgeSource wraps a prepared bridge stream as a Source
func NewBridgeSource(stream *BridgeStream) *BridgeSource {
	return &BridgeSource{stream: stream}
}

// Acquire implements Source
func (s *BridgeSource) Acquire(ctx context.Context) (Stream, error) {
	return s.stream, nil
}

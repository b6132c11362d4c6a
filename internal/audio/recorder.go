package audio

import (
	"sync"

	"github.com/rsavary/classnote/pkg/logger"
)

// Recorder drains a Stream and accumulates its chunks in memory until
// the session stops and the blob is assembled
type Recorder struct {
	mu     sync.Mutex
	chunks [][]byte
	bytes  int
	done   chan struct{}
	logger *logger.Logger
}

// NewRecorder starts draining the given stream. Collection ends when
// the stream closes its chunk channel.
func NewRecorder(stream Stream, log *logger.Logger) *Recorder {
	r := &Recorder{
		done:   make(chan struct{}),
		logger: log.Named("recorder"),
	}

	go func() {
		defer close(r.done)
		for chunk := range stream.Chunks() {
			r.mu.Lock()
			r.chunks = append(r.chunks, chunk)
			r.bytes += len(chunk)
			r.mu.Unlock()
		}
	}()

	return r
}

// ChunkCount returns the number of chunks collected so far
func (r *Recorder) ChunkCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chunks)
}

// Wait blocks until the stream has closed and all chunks are collected
func (r *Recorder) Wait() {
	<-r.done
}

// Blob concatenates all collected chunks into a single audio blob
func (r *Recorder) Blob() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	blob := make([]byte, 0, r.bytes)
	for _, chunk := range r.chunks {
		blob = append(blob, chunk...)
	}
	return blob
}

package notes

import (
	"sync"

	"github.com/rsavary/classnote/pkg/logger"
)

// Cache holds generated notes in memory so repeated reads for the same
// recording do not hit storage. It is the single owner of cached payloads.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*NotesPayload
	logger  *logger.Logger
}

// NewCache creates an empty notes cache.
func NewCache(log *logger.Logger) *Cache {
	return &Cache{
		entries: make(map[string]*NotesPayload),
		logger:  log.Named("notes-cache"),
	}
}

// Get returns the cached payload for a recording, or nil if absent.
func (c *Cache) Get(recordingID string) *NotesPayload {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[recordingID]
}

// Set stores the payload for a recording, replacing any previous entry.
func (c *Cache) Set(recordingID string, payload *NotesPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[recordingID] = payload
	c.logger.Debug("Notes cached",
		logger.String("recording_id", recordingID),
		logger.Int("cached_total", len(c.entries)))
}

// Delete removes the entry for a recording, if present.
func (c *Cache) Delete(recordingID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, recordingID)
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

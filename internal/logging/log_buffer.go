package logging

import (
	"sync"

	"mdview/internal/buffer"
)

// LogBuffer retains recent entries for the logs endpoint.
type LogBuffer struct {
	mu      sync.Mutex
	entries *buffer.Ring[LogEntry]
}

func NewLogBuffer(size int) *LogBuffer {
	return &LogBuffer{
		entries: buffer.NewRing[LogEntry](size),
	}
}

func (b *LogBuffer) Add(entry LogEntry) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries.Add(entry)
}

func (b *LogBuffer) List() []LogEntry {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entries.List()
}

// Recent returns up to limit of the newest entries at or above minLevel,
// oldest first. A limit of zero or less means no limit.
func (b *LogBuffer) Recent(limit int, minLevel Level) []LogEntry {
	entries := b.List()
	filtered := make([]LogEntry, 0, len(entries))
	for _, entry := range entries {
		if LevelAtLeast(entry.Level, minLevel) {
			filtered = append(filtered, entry)
		}
	}
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}
	return filtered
}

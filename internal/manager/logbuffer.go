package manager

import (
	"sync"
	"time"
)

// LogEntry is one line of runtime output.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Stream    string    `json:"stream"` // "stdout" or "stderr"
	Line      string    `json:"line"`
}

// LogBuffer is a thread-safe ring buffer over the local runtime's output.
// The UI polls Recent to show why a model failed to load.
type LogBuffer struct {
	mu         sync.RWMutex
	entries    []LogEntry
	maxEntries int
}

// NewLogBuffer creates a buffer retaining up to maxEntries lines.
func NewLogBuffer(maxEntries int) *LogBuffer {
	return &LogBuffer{
		entries:    make([]LogEntry, 0, maxEntries),
		maxEntries: maxEntries,
	}
}

// Write appends a line, dropping the oldest when full.
func (lb *LogBuffer) Write(stream, line string) {
	lb.mu.Lock()
	if len(lb.entries) >= lb.maxEntries {
		lb.entries = lb.entries[1:]
	}
	lb.entries = append(lb.entries, LogEntry{
		Timestamp: time.Now().UTC(),
		Stream:    stream,
		Line:      line,
	})
	lb.mu.Unlock()
}

// Recent returns the last n entries.
func (lb *LogBuffer) Recent(n int) []LogEntry {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	total := len(lb.entries)
	if n <= 0 || n > total {
		n = total
	}
	result := make([]LogEntry, n)
	copy(result, lb.entries[total-n:])
	return result
}

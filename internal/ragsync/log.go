package ragsync

import (
	"sync"
	"time"
)

type LogLevel string

const (
	LevelInfo    LogLevel = "info"
	LevelSuccess LogLevel = "success"
	LevelWarning LogLevel = "warning"
	LevelError   LogLevel = "error"
)

// LogEntry is one line of the user-visible sync log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
	FileID    string    `json:"fileId,omitempty"`
	FileName  string    `json:"fileName,omitempty"`
}

// runLog keeps the most recent max entries of a run.
type runLog struct {
	mu      sync.Mutex
	entries []LogEntry
	max     int
}

func newRunLog(max int) *runLog {
	return &runLog{max: max}
}

func (l *runLog) add(e LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	if over := len(l.entries) - l.max; over > 0 {
		l.entries = append(l.entries[:0:0], l.entries[over:]...)
	}
}

func (l *runLog) snapshot() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// EvalLog represents a single probe evaluation log entry, one per reply
// a worker sends back to the transport peer. Replies the input loop sends
// itself (cache hits, missing-id errors) are not logged here.
type EvalLog struct {
	Timestamp  time.Time `json:"timestamp"`
	RID        string    `json:"rid"`
	OID        string    `json:"oid"`
	TraceID    string    `json:"trace_id,omitempty"`
	SpanID     string    `json:"span_id,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	Success    bool      `json:"success"`
	ErrorCode  string    `json:"error_code,omitempty"`
	Error      string    `json:"error,omitempty"`
	FromCache  bool      `json:"from_cache,omitempty"`
}

// Logger handles per-evaluation logging, separate from the operational
// logger returned by Op().
type Logger struct {
	mu      sync.Mutex
	enabled bool
	file    *os.File
	console bool
}

var defaultLogger = &Logger{enabled: true, console: true}

// Default returns the default evaluation logger.
func Default() *Logger {
	return defaultLogger
}

// SetOutput sets the evaluation log output file.
func (l *Logger) SetOutput(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		l.file.Close()
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.file = f
	return nil
}

// SetConsole enables/disables console output.
func (l *Logger) SetConsole(enabled bool) {
	l.mu.Lock()
	l.console = enabled
	l.mu.Unlock()
}

// Log writes an evaluation log entry.
func (l *Logger) Log(entry *EvalLog) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}

	entry.Timestamp = time.Now()

	if l.console {
		status := "✓"
		if !entry.Success {
			status = "✗"
		}
		cache := ""
		if entry.FromCache {
			cache = " [cached]"
		}
		fmt.Printf("[eval] %s rid=%s oid=%s %dms%s\n",
			status, entry.RID, entry.OID, entry.DurationMs, cache)
		if entry.Error != "" {
			fmt.Printf("[eval]   error: %s (%s)\n", entry.Error, entry.ErrorCode)
		}
	}

	if l.file != nil {
		data, _ := json.Marshal(entry)
		l.file.Write(append(data, '\n'))
	}
}

// Close closes the evaluation log file.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}

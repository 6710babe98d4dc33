package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// DispatchLog represents one completed broadcast: what was dispatched, how
// the membership answered, and what the reduction produced.
type DispatchLog struct {
	Timestamp   time.Time `json:"timestamp"`
	CallID      string    `json:"call_id"`
	TraceID     string    `json:"trace_id,omitempty"`
	Group       string    `json:"group"`
	Action      string    `json:"action"`
	Transport   string    `json:"transport"`
	Members     int       `json:"members"`
	Values      int       `json:"values"`
	Faults      int       `json:"faults"`
	Unreachable int       `json:"unreachable"`
	Absent      int       `json:"absent"`
	DurationMs  int64     `json:"duration_ms"`
	Resolved    bool      `json:"resolved"` // false when the reduction produced no value
	Error       string    `json:"error,omitempty"`
}

// DispatchLogger writes per-broadcast records to the console and/or a
// JSON-lines file.
type DispatchLogger struct {
	mu      sync.Mutex
	enabled bool
	file    *os.File
	console bool
}

var defaultDispatchLogger = &DispatchLogger{enabled: true, console: true}

// Dispatches returns the process-wide dispatch logger.
func Dispatches() *DispatchLogger {
	return defaultDispatchLogger
}

// SetOutput directs JSON records to the given file, appending.
func (l *DispatchLogger) SetOutput(path string) error {
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

// SetConsole enables or disables the human-readable console line.
func (l *DispatchLogger) SetConsole(enabled bool) {
	l.mu.Lock()
	l.console = enabled
	l.mu.Unlock()
}

// SetEnabled turns dispatch logging on or off entirely.
func (l *DispatchLogger) SetEnabled(enabled bool) {
	l.mu.Lock()
	l.enabled = enabled
	l.mu.Unlock()
}

// Log writes one dispatch record.
func (l *DispatchLogger) Log(entry *DispatchLog) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}

	entry.Timestamp = time.Now()

	if l.console {
		status := "✓"
		if entry.Error != "" {
			status = "✗"
		}
		outcome := "resolved"
		switch {
		case entry.Error != "":
			outcome = "failed"
		case !entry.Resolved:
			outcome = "absent"
		}
		fmt.Printf("[dispatch] %s %s %s %d/%d answered %dms [%s]\n",
			status, entry.CallID, entry.Action, entry.Values, entry.Members, entry.DurationMs, outcome)
		if entry.Error != "" {
			fmt.Printf("[dispatch]   error: %s\n", entry.Error)
		}
	}

	if l.file != nil {
		data, _ := json.Marshal(entry)
		l.file.Write(append(data, '\n'))
	}
}

// Close closes the record file.
func (l *DispatchLogger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}

package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventLogger records the session's audit trail. Implementations must be
// safe for concurrent use; the store, the recorder, and the watcher all
// write to the same log.
type EventLogger interface {
	Log(event Event)
	Close() error
}

// JSONLogger appends events as newline-delimited JSON. Write failures are
// swallowed after the first report: the audit trail must never take down
// a save path.
type JSONLogger struct {
	mu       sync.Mutex
	file     *os.File
	enc      *json.Encoder
	path     string
	writeErr error
}

// NewJSONLogger creates a logger that writes NDJSON to the given path.
// Parent directories are created automatically.
func NewJSONLogger(path string) (*JSONLogger, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating session log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening session log: %w", err)
	}

	return &JSONLogger{
		file: f,
		enc:  json.NewEncoder(f),
		path: path,
	}, nil
}

// Log writes a single event as one JSON line.
func (l *JSONLogger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enc.Encode(event); err != nil && l.writeErr == nil {
		l.writeErr = err
	}
}

// Close flushes and closes the underlying file. It returns the first
// write error encountered, if any.
func (l *JSONLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	closeErr := l.file.Close()
	if l.writeErr != nil {
		return l.writeErr
	}
	return closeErr
}

// Path returns the file path of the session log.
func (l *JSONLogger) Path() string {
	return l.path
}

// NopLogger discards all events. It is the default when no log is wired.
type NopLogger struct{}

// Log is a no-op.
func (NopLogger) Log(Event) {}

// Close is a no-op.
func (NopLogger) Close() error { return nil }

// DefaultLogPath returns a timestamped session log path inside dir.
func DefaultLogPath(dir string) string {
	ts := time.Now().UTC().Format("20060102T150405Z")
	return filepath.Join(dir, fmt.Sprintf("%s-session.jsonl", ts))
}

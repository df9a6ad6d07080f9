// Package audit implements the Session/Audit Sink: a JSONL event log and
// a sqlite session archive. All writes are fire-and-forget — failures are
// logged, never propagated into the council pipeline.
package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/Dicklesworthstone/council/internal/council"
)

// LoggerOptions configures the JSONL event logger.
type LoggerOptions struct {
	// Path is the JSONL file to append to.
	Path string

	// Enabled turns the logger on. A disabled logger is a no-op.
	Enabled bool
}

// Logger appends audit events as JSON lines. Safe for concurrent use.
type Logger struct {
	mu   sync.Mutex
	file *os.File
}

// NewLogger opens (or creates) the event log. When disabled, the returned
// logger discards everything.
func NewLogger(opts LoggerOptions) (*Logger, error) {
	if !opts.Enabled {
		return &Logger{}, nil
	}
	if opts.Path == "" {
		return nil, fmt.Errorf("audit log path is required when enabled")
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit log dir: %w", err)
	}
	f, err := os.OpenFile(opts.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &Logger{file: f}, nil
}

// RecordEvent appends one event line. Errors are logged and swallowed.
func (l *Logger) RecordEvent(event council.AuditEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		slog.Warn("audit event marshal failed", "error", err)
		return
	}
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		slog.Warn("audit event write failed", "error", err)
	}
}

// RecordSession appends the terminal session record as one event line.
func (l *Logger) RecordSession(record *council.SessionRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil || record == nil {
		return
	}
	line := struct {
		Type    string                 `json:"type"`
		Session *council.SessionRecord `json:"session"`
	}{Type: "session_record", Session: record}
	data, err := json.Marshal(line)
	if err != nil {
		slog.Warn("audit session marshal failed", "error", err)
		return
	}
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		slog.Warn("audit session write failed", "error", err)
	}
}

// Close closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Multi fans sink calls out to several sinks.
type Multi []council.AuditSink

// RecordEvent forwards to every sink.
func (m Multi) RecordEvent(event council.AuditEvent) {
	for _, s := range m {
		s.RecordEvent(event)
	}
}

// RecordSession forwards to every sink.
func (m Multi) RecordSession(record *council.SessionRecord) {
	for _, s := range m {
		s.RecordSession(record)
	}
}

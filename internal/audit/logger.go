// Package audit writes the dispatch engine's per-pass audit trail to a daily
// rotating log file. It is deliberately decoupled from slog: audit entries are
// an operator-facing record of what happened to each queued notification, not
// diagnostics, and their file layout is part of the service's contract.
package audit

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Audit levels, matching the flags the engine stamps on each entry.
const (
	LevelStart   = "START"
	LevelProcess = "PROCESS"
	LevelInfo    = "INFO"
	LevelWarn    = "WARN"
	LevelSuccess = "SUCCESS"
	LevelFailed  = "FAILED"
	LevelFatal   = "FATAL"
	LevelEnd     = "END"
)

// Logger appends timestamped entries to push-dispatch.<YYYY-MM-DD>.log in a
// configured directory, keyed by the current UTC calendar date. The file
// handle is opened lazily and re-opened when the date rolls over. Logging
// failures are reported to a secondary diagnostic writer and swallowed; an
// audit problem must never interrupt a dispatch pass.
type Logger struct {
	mu     sync.Mutex
	dir    string
	file   *os.File
	date   string
	errOut io.Writer
	now    func() time.Time
}

// New creates a Logger writing into dir. The directory is created on first
// use, not here, so construction never fails.
func New(dir string) *Logger {
	return &Logger{
		dir:    dir,
		errOut: os.Stderr,
		now:    time.Now,
	}
}

// Log appends one line "<timestamp> - <LEVEL> - <message>".
func (l *Logger) Log(level, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.now().UTC()
	if err := l.ensureFileLocked(ts); err != nil {
		fmt.Fprintf(l.errOut, "audit logger error: %v\n", err)
		return
	}

	line := fmt.Sprintf("%s - %s - %s\n", ts.Format(time.RFC3339), level, message)
	if _, err := l.file.WriteString(line); err != nil {
		fmt.Fprintf(l.errOut, "audit logger write error: %v\n", err)
	}
}

// Logf is Log with fmt-style formatting of the message.
func (l *Logger) Logf(level, format string, args ...any) {
	l.Log(level, fmt.Sprintf(format, args...))
}

// Close flushes and releases the current file handle. Safe to call when no
// entry was ever written.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	l.date = ""
	return err
}

func (l *Logger) ensureFileLocked(ts time.Time) error {
	today := ts.Format(time.DateOnly)
	if l.file != nil && l.date == today {
		return nil
	}

	if l.file != nil {
		_ = l.file.Close()
		l.file = nil
	}

	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}

	name := filepath.Join(l.dir, fmt.Sprintf("push-dispatch.%s.log", today))
	f, err := os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	l.file = f
	l.date = today
	return nil
}

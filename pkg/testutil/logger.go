package testutil

import (
	"context"
	"sync"

	"github.com/nimburion/migratestate/pkg/observability/logger"
)

// Entry is one captured log call.
type Entry struct {
	Level   string
	Message string
	Args    []any
}

// RecordingLogger captures log calls for assertions. Children share the parent's entries.
type RecordingLogger struct {
	mu      *sync.Mutex
	entries *[]Entry
	fields  []any
}

// NewRecordingLogger returns an empty RecordingLogger.
func NewRecordingLogger() *RecordingLogger {
	return &RecordingLogger{mu: &sync.Mutex{}, entries: &[]Entry{}}
}

func (l *RecordingLogger) Debug(msg string, args ...any) { l.record("debug", msg, args) }
func (l *RecordingLogger) Info(msg string, args ...any)  { l.record("info", msg, args) }
func (l *RecordingLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args) }
func (l *RecordingLogger) Error(msg string, args ...any) { l.record("error", msg, args) }

func (l *RecordingLogger) With(args ...any) logger.Logger {
	fields := append(append([]any{}, l.fields...), args...)
	return &RecordingLogger{mu: l.mu, entries: l.entries, fields: fields}
}

func (l *RecordingLogger) WithContext(ctx context.Context) logger.Logger {
	if runID := logger.RunIDFromContext(ctx); runID != "" {
		return l.With("run_id", runID)
	}
	return l
}

// Entries returns a copy of everything logged so far.
func (l *RecordingLogger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(*l.entries))
	copy(out, *l.entries)
	return out
}

// Has reports whether a message was logged at level.
func (l *RecordingLogger) Has(level, msg string) bool {
	for _, e := range l.Entries() {
		if e.Level == level && e.Message == msg {
			return true
		}
	}
	return false
}

func (l *RecordingLogger) record(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.entries = append(*l.entries, Entry{
		Level:   level,
		Message: msg,
		Args:    append(append([]any{}, l.fields...), args...),
	})
}

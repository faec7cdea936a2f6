package logger

import (
	"context"
	"sync"
	"sync/atomic"
)

// AsyncConfig configures the async logger wrapper.
type AsyncConfig struct {
	Enabled     bool
	QueueSize   int
	WorkerCount int
	// DropWhenFull discards debug, info and warn entries instead of blocking when
	// the queue is full. Error entries always wait for room.
	DropWhenFull bool
}

type logLevel int

const (
	logLevelDebug logLevel = iota
	logLevelInfo
	logLevelWarn
	logLevelError
)

type asyncEntry struct {
	base  Logger
	level logLevel
	msg   string
	args  []any
}

// asyncQueue is shared by an AsyncLogger and every logger derived from it.
type asyncQueue struct {
	entries      chan asyncEntry
	dropWhenFull bool
	dropped      atomic.Int64
	wg           sync.WaitGroup
	closeOnce    sync.Once
	closed       atomic.Bool
}

// AsyncLogger queues log entries and writes them from worker goroutines, so a
// slow sink does not stall a migration run. Close must be called before exit or
// queued entries are lost.
type AsyncLogger struct {
	base  Logger
	queue *asyncQueue
}

// WrapAsync wraps base with async dispatch when cfg.Enabled, and returns base
// unchanged otherwise.
func WrapAsync(base Logger, cfg AsyncConfig) Logger {
	if !cfg.Enabled {
		return base
	}

	size := cfg.QueueSize
	if size <= 0 {
		size = 1024
	}
	workers := cfg.WorkerCount
	if workers <= 0 {
		workers = 1
	}

	q := &asyncQueue{
		entries:      make(chan asyncEntry, size),
		dropWhenFull: cfg.DropWhenFull,
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for e := range q.entries {
				write(e.base, e.level, e.msg, e.args)
			}
		}()
	}

	return &AsyncLogger{base: base, queue: q}
}

func (l *AsyncLogger) Debug(msg string, args ...any) { l.enqueue(logLevelDebug, msg, args) }
func (l *AsyncLogger) Info(msg string, args ...any)  { l.enqueue(logLevelInfo, msg, args) }
func (l *AsyncLogger) Warn(msg string, args ...any)  { l.enqueue(logLevelWarn, msg, args) }
func (l *AsyncLogger) Error(msg string, args ...any) { l.enqueue(logLevelError, msg, args) }

// With returns a logger with additional fields sharing this logger's queue.
func (l *AsyncLogger) With(args ...any) Logger {
	return &AsyncLogger{base: l.base.With(args...), queue: l.queue}
}

// WithContext returns a logger carrying ctx's run id, sharing this logger's queue.
func (l *AsyncLogger) WithContext(ctx context.Context) Logger {
	return &AsyncLogger{base: l.base.WithContext(ctx), queue: l.queue}
}

// Dropped reports how many entries were discarded because the queue was full.
func (l *AsyncLogger) Dropped() int64 {
	return l.queue.dropped.Load()
}

// Close drains the queue and stops the workers. When entries were dropped, one
// warning with the count is written through this logger's fields, so the run
// that lost output can be identified. Later calls are no-ops; entries logged
// after Close are written synchronously.
func (l *AsyncLogger) Close() error {
	first := false
	l.queue.closeOnce.Do(func() {
		first = true
		l.queue.closed.Store(true)
		close(l.queue.entries)
		l.queue.wg.Wait()
	})
	if first {
		if n := l.Dropped(); n > 0 {
			l.base.Warn("log entries dropped while the async queue was full", "dropped", n)
		}
	}
	return nil
}

func (l *AsyncLogger) enqueue(level logLevel, msg string, args []any) {
	if l.queue.closed.Load() {
		write(l.base, level, msg, args)
		return
	}

	e := asyncEntry{base: l.base, level: level, msg: msg, args: args}
	if l.queue.dropWhenFull && level != logLevelError {
		select {
		case l.queue.entries <- e:
		default:
			l.queue.dropped.Add(1)
		}
		return
	}
	l.queue.entries <- e
}

func write(base Logger, level logLevel, msg string, args []any) {
	switch level {
	case logLevelDebug:
		base.Debug(msg, args...)
	case logLevelInfo:
		base.Info(msg, args...)
	case logLevelWarn:
		base.Warn(msg, args...)
	case logLevelError:
		base.Error(msg, args...)
	}
}

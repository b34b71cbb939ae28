package audit

import (
	"context"
	"sync/atomic"
)

// AtomicLogger wraps a Logger with an atomic pointer for lock-free
// hot-reload. Handlers capture the logger at wiring time via closures;
// by handing them an AtomicLogger instead, a configuration reload can
// Swap the inner logger and every subsequent call uses the new one
// without re-wiring anything.
type AtomicLogger struct {
	current atomic.Pointer[Logger]
}

// Ensure AtomicLogger satisfies the Logger interface.
var _ Logger = (*AtomicLogger)(nil)

// defaultNoopLogger avoids allocating on every Load of a zero-value
// AtomicLogger.
var defaultNoopLogger Logger = &noopLogger{}

// NewAtomicLogger creates a new AtomicLogger wrapping the given
// logger. If logger is nil, a noop logger is used as the initial
// delegate.
func NewAtomicLogger(logger Logger) *AtomicLogger {
	if logger == nil {
		logger = NewNoopLogger()
	}
	a := &AtomicLogger{}
	a.current.Store(&logger)
	return a
}

// Swap atomically replaces the inner logger and returns the previous
// one. The caller is responsible for closing the previous logger. If
// newLogger is nil, a noop logger is stored instead.
func (a *AtomicLogger) Swap(newLogger Logger) Logger {
	if newLogger == nil {
		newLogger = NewNoopLogger()
	}
	old := a.current.Swap(&newLogger)
	if old != nil {
		return *old
	}
	return nil
}

// Load returns the current inner logger.
func (a *AtomicLogger) Load() Logger {
	if ptr := a.current.Load(); ptr != nil {
		return *ptr
	}
	return defaultNoopLogger
}

// LogEvent delegates to the current inner logger.
func (a *AtomicLogger) LogEvent(ctx context.Context, event *Event) {
	a.Load().LogEvent(ctx, event)
}

// Close closes the current inner logger.
func (a *AtomicLogger) Close() error {
	return a.Load().Close()
}

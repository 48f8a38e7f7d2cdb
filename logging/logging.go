// Package logging builds per-component structured loggers from a single
// process-wide backend, the way the teacher repo wires github.com/decred/slog
// into each of its components at construction time instead of reaching for a
// package-level global.
package logging

import (
	"os"

	"github.com/decred/slog"
)

// Backend is the process-scoped logging capability. It is created once at
// startup and handed to every component that needs a logger, mirroring
// client/config.go's AppConfig.Log field in the teacher repo.
type Backend struct {
	b *slog.Backend
}

// NewBackend creates a Backend writing to w (os.Stdout if nil).
func NewBackend(w *os.File) *Backend {
	if w == nil {
		w = os.Stdout
	}
	return &Backend{b: slog.NewBackend(w)}
}

// Logger returns a named slog.Logger at the given level, e.g. "ENGN", "WIRE".
func (be *Backend) Logger(subsystem string, level slog.Level) slog.Logger {
	l := be.b.Logger(subsystem)
	l.SetLevel(level)
	return l
}

// Shutdown does nothing: it neither flushes nor closes the writer given to
// NewBackend, and loggers obtained from the backend keep working after it.
func (be *Backend) Shutdown() {
	_ = be.b
}

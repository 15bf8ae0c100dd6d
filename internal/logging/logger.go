// Package logging provides a small component logger over log/slog, shaped
// like a printf-style internal/logging and internal/utils logger but
// without the observability/OTel machinery this module does not need.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Logger is a printf-style structured logger. Every call site logs a
// component name so multi-worker output can be filtered per subsystem.
type Logger struct {
	component string
	slog      *slog.Logger
}

var (
	baseMu      sync.Mutex
	baseHandler slog.Handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
)

// Configure sets the process-wide base handler. Call once at startup;
// component loggers created afterwards use the new handler, existing ones
// do not (matching the process-lifetime logger setup in
// cmd/cobra_cli.go's initialize()).
func Configure(w io.Writer, level slog.Level, jsonFormat bool) {
	baseMu.Lock()
	defer baseMu.Unlock()
	opts := &slog.HandlerOptions{Level: level}
	if jsonFormat {
		baseHandler = slog.NewJSONHandler(w, opts)
	} else {
		baseHandler = slog.NewTextHandler(w, opts)
	}
}

// NewComponentLogger returns a Logger tagged with component, e.g. "cycle",
// "worker:session-3", "reviewer".
func NewComponentLogger(component string) *Logger {
	baseMu.Lock()
	h := baseHandler
	baseMu.Unlock()
	return &Logger{component: component, slog: slog.New(h)}
}

// With returns a derived logger nesting a sub-component, e.g.
// logger.With("claim_task").
func (l *Logger) With(subComponent string) *Logger {
	if l == nil {
		return NewComponentLogger(subComponent)
	}
	return &Logger{component: l.component + ":" + subComponent, slog: l.slog}
}

func (l *Logger) log(level slog.Level, format string, args ...any) {
	if l == nil || l.slog == nil {
		return
	}
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	l.slog.Log(context.Background(), level, msg, slog.String("component", l.component))
}

// Debug logs at debug level. Tool-use events from workers are logged here
// per spec.md §4.3 step 4.
func (l *Logger) Debug(format string, args ...any) { l.log(slog.LevelDebug, format, args...) }

// Info logs at info level.
func (l *Logger) Info(format string, args ...any) { l.log(slog.LevelInfo, format, args...) }

// Warn logs at warn level.
func (l *Logger) Warn(format string, args ...any) { l.log(slog.LevelWarn, format, args...) }

// Error logs at error level.
func (l *Logger) Error(format string, args ...any) { l.log(slog.LevelError, format, args...) }

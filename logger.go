package vectable

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with vectable-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// WithTable adds a table field to the logger.
func (l *Logger) WithTable(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("table", name),
	}
}

// LogOpen logs opening or creating a table.
func (l *Logger) LogOpen(ctx context.Context, table string, version uint64, created bool, err error) {
	if err != nil {
		l.ErrorContext(ctx, "open table failed",
			"table", table,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "table opened",
		"table", table,
		"version", version,
		"created", created,
	)
}

// LogDrop logs dropping a table.
func (l *Logger) LogDrop(ctx context.Context, table string, blobs int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "drop table failed",
			"table", table,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "table dropped",
		"table", table,
		"blobs", blobs,
	)
}

// LogQuery logs the start of a query.
func (l *Logger) LogQuery(ctx context.Context, table string, version uint64, vector bool, err error) {
	if err != nil {
		l.WarnContext(ctx, "query failed",
			"table", table,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "query started",
		"table", table,
		"version", version,
		"vector", vector,
	)
}

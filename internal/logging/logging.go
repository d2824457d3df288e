// Package logging builds the structured logger shared by every component.
//
// Records are JSON lines on the given writer. Components attach a module
// attribute with For. Callers must never log input text, model output or
// matched values; counts, categories, context names and errors only.
package logging

import (
	"io"
	"log/slog"
	"strings"
)

// ParseLevel maps debug, info, warn and error to slog levels.
// Unrecognized strings default to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New returns a JSON logger writing to w at the given level.
func New(level string, w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

// For returns a child logger tagged with module. A nil logger yields one
// that discards everything.
func For(logger *slog.Logger, module string) *slog.Logger {
	if logger == nil {
		logger = Discard()
	}
	return logger.With("module", module)
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

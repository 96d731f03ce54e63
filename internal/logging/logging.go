// Package logging holds the structured logging conventions shared by the render
// pipeline: standard field keys and logger constructors.
package logging

import (
	"io"
	"log/slog"
	"strings"
)

// Standard attribute keys.
const (
	FieldComponent = "component"
	FieldJobID     = "job_id"
	FieldLayerID   = "layer_id"
	FieldFrame     = "frame"
	FieldFrames    = "frames"
	FieldStage     = "stage"
	FieldPath      = "path"
)

// New builds a text logger at the given level ("debug", "info", "warn", "error").
func New(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

// ParseLevel maps a config level name to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// NewNop returns a logger that drops everything.
func NewNop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewComponentLogger tags logger with a component attribute. A nil logger yields a
// no-op base.
func NewComponentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	return logger.With(slog.String(FieldComponent, component))
}

// Error is the conventional attribute for an error value.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.Any("error", err)
}

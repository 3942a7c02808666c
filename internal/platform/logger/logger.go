// Package logger builds the root slog logger shared by all components.
package logger

import (
	"log/slog"
	"os"
)

// New returns a text-format logger writing to stdout at the given level.
func New(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

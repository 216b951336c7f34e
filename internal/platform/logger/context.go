package logger

import (
	"io"
	"log/slog"
)

// Discard drops every record. Tests use it in place of a real logger.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

package logger

import (
	"log/slog"
	"os"
)

// New returns the process-wide structured logger. Text output locally, JSON
// when KOSHERDIR_LOG_FORMAT=json so log shippers get parseable lines.
func New() *slog.Logger {
	if os.Getenv("KOSHERDIR_LOG_FORMAT") == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

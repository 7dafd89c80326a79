package observability

import (
	"log/slog"
	"os"
)

// NewLogger builds the process-wide JSON logger. Set LOG_DEBUG to any value
// to include debug records.
func NewLogger() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("LOG_DEBUG") != "" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

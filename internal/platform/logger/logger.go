package logger

import (
	"log/slog"
	"os"
)

// New returns the JSON logger used across services. Services receive it by
// injection; nothing reads the slog default.
func New() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

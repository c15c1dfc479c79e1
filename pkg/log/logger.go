package log

import (
	"io"
	"log/slog"
	"os"
)

// Service is the attribute value marking engine-emitted log lines
const Service = "stagehand"

// New constructs the engine's JSON slog.Logger on stdout at info level
func New(env string) *slog.Logger {
	return NewWithLevel(os.Stdout, env, slog.LevelInfo)
}

// NewWithLevel constructs a JSON slog.Logger on w at the provided level
func NewWithLevel(w io.Writer, env string, lvl slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: lvl,
	})

	return slog.New(handler).With(
		slog.String("service", Service),
		slog.String("env", env))
}

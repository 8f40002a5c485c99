package logger

import (
	"io"
	"log/slog"
	"os"
)

const service = "reminder-voice"

// New returns the JSON logger every component writes through. Local and dev
// environments log at debug level.
func New(appEnv string) *slog.Logger {
	level := slog.LevelInfo
	if appEnv == "local" || appEnv == "dev" {
		level = slog.LevelDebug
	}

	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(h).With("service", service, "env", appEnv)
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ForCall scopes a logger to one call. Every background component that works
// on a single call logs through this.
func ForCall(l *slog.Logger, callUUID string) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	return l.With("call_uuid", callUUID)
}

// Package obslog bootstraps the process-wide structured logger.
package obslog

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures slog.Default for service and returns the logger for
// callers that want an explicit handle instead of using slog.Default().
func Init(service string) *slog.Logger {
	level := levelFromEnv()
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if os.Getenv("YAWL_JSON_LOG") == "0" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler).With(slog.String("service", service))
	slog.SetDefault(logger)
	return logger
}

func levelFromEnv() slog.Level {
	switch strings.ToLower(os.Getenv("YAWL_LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

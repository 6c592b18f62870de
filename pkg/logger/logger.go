// Package logger provides the process-wide slog logger and shared attribute
// helpers. All components log through a scoped child of this logger.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"go.uber.org/fx"
)

// Module provides the logger for fx
var Module = fx.Module("logger",
	fx.Provide(NewLogger),
)

// Scope returns the standard "scope" attribute used to tag log lines with
// the component that emitted them.
func Scope(name string) slog.Attr {
	return slog.String("scope", name)
}

// Error returns the standard "error" attribute.
func Error(err error) slog.Attr {
	return slog.Any("error", err)
}

// NewLogger builds the root logger. Level comes from LOG_LEVEL
// (debug|info|warn|warning|error, case-insensitive, default info).
// Production (GO_ENV=production) uses the JSON handler, everything else
// the text handler.
func NewLogger() *slog.Logger {
	level := parseLevel(os.Getenv("LOG_LEVEL"))

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if os.Getenv("GO_ENV") == "production" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(raw) {
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

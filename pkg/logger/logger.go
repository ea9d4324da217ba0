// Package logger builds the application's structured logger from the
// observability configuration: level and output format.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config controls the logger construction.
type Config struct {
	// Level is one of debug, info, warn, error. Unknown values mean info.
	Level string

	// Format is json or text. Unknown values mean json.
	Format string

	// Output defaults to stderr.
	Output io.Writer

	// AddSource includes the source file and line in each record.
	AddSource bool
}

// ParseLevel converts a level name to a slog.Level.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// New builds a slog.Logger from the configuration.
func New(cfg Config) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:     ParseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	return slog.New(handler)
}

// Setup builds the logger and installs it as the process default.
func Setup(cfg Config) *slog.Logger {
	log := New(cfg)
	slog.SetDefault(log)
	return log
}

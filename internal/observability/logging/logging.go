package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

type Config struct {
	Level  string
	Writer io.Writer
	Format string
}

type LogFormat string

const (
	FormatJSON LogFormat = "json"
	FormatText LogFormat = "text"
)

// Init creates a slog.Logger using the provided configuration and installs it
// as the process-wide default logger.
func Init(cfg Config) (*slog.Logger, *slog.LevelVar) {
	logger, level := New(cfg)
	slog.SetDefault(logger)
	return logger, level
}

// New creates a structured slog.Logger using the provided configuration. The
// returned LevelVar controls the logger's verbosity at runtime; the debug
// toggle on the HTTP and media services flips it between Info and Debug.
func New(cfg Config) (*slog.Logger, *slog.LevelVar) {
	writer := cfg.Writer
	if writer == nil {
		writer = os.Stdout
	}
	level := new(slog.LevelVar)
	level.Set(ParseLevel(cfg.Level))
	options := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch LogFormat(strings.ToLower(strings.TrimSpace(cfg.Format))) {
	case FormatText:
		handler = slog.NewTextHandler(writer, options)
	default:
		handler = slog.NewJSONHandler(writer, options)
	}
	return slog.New(handler), level
}

// ParseLevel maps a level name onto a slog level, defaulting to Info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// WithComponent returns a logger annotated with the provided component field.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With("component", component)
}

// Package logger configures the process-wide slog logger. All packages log
// through log/slog; this package only decides level, format and destination.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	mu            sync.Mutex
	defaultLogger *slog.Logger
)

// Format selects the log output encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseLevel converts a string log level to slog.Level.
// Valid levels: debug, info, warn, error. Unknown strings fall back to info.
func ParseLevel(levelStr string) slog.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseFormat converts a string to a Format. Unknown strings fall back to text.
func ParseFormat(formatStr string) Format {
	if strings.EqualFold(formatStr, string(FormatJSON)) {
		return FormatJSON
	}
	return FormatText
}

// Init installs the process-wide default logger. It is safe to call more
// than once; the last call wins.
func Init(level slog.Level, format Format, out io.Writer) *slog.Logger {
	mu.Lock()
	defer mu.Unlock()

	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch format {
	case FormatJSON:
		handler = slog.NewJSONHandler(out, opts)
	default:
		handler = slog.NewTextHandler(out, opts)
	}

	defaultLogger = slog.New(handler)
	slog.SetDefault(defaultLogger)
	return defaultLogger
}

// InitFromStrings is a convenience wrapper for configuration-sourced values.
func InitFromStrings(level, format string) *slog.Logger {
	return Init(ParseLevel(level), ParseFormat(format), os.Stderr)
}

// Default returns the configured logger, initializing a sane default when
// Init was never called.
func Default() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()

	if defaultLogger == nil {
		defaultLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
		slog.SetDefault(defaultLogger)
	}
	return defaultLogger
}

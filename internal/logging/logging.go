package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Init installs the default slog logger for a binary: JSON unless format is "text",
// at the given level (debug, info, warn, error; info when unrecognised).
func Init(service, format, level string) *slog.Logger {
	return initTo(os.Stdout, service, format, level)
}

func initTo(w io.Writer, service, format, level string) *slog.Logger {
	format = strings.ToLower(strings.TrimSpace(format))
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	logger := slog.New(handler).With("service", service)
	slog.SetDefault(logger)

	if format != "" && format != "json" && format != "text" {
		logger.Warn("unknown log format, defaulting to json", "format", format)
	}
	return logger
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return l
}

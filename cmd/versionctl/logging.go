package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// configureLogging installs the process-wide slog logger.
func configureLogging(w io.Writer, level string) error {
	var parsed slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		parsed = slog.LevelDebug
	case "", "info":
		parsed = slog.LevelInfo
	case "warn":
		parsed = slog.LevelWarn
	case "error":
		parsed = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q", level)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: parsed})))
	return nil
}

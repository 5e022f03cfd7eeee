package runtime

import (
	"io"
	"log/slog"
	"strings"

	"github.com/loqalabs/loqa-bridge/internal/config"
)

// NewLogger builds the process logger. Stdout carries results only, so callers pass stderr.
func NewLogger(cfg config.TelemetryConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}
	if strings.EqualFold(cfg.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(v string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}

package session

import (
	"log/slog"

	"github.com/loqalabs/loqa-bridge/internal/realtime"
)

// ServerErrorHandler logs error events; they never end the session.
func ServerErrorHandler(logger *slog.Logger) Handler {
	return func(evt realtime.Event) error {
		logger.Warn("server reported error", slog.String("message", evt.ErrorMessage()))
		return nil
	}
}

// LifecycleHandler logs informational lifecycle events at debug level.
func LifecycleHandler(logger *slog.Logger) Handler {
	return func(evt realtime.Event) error {
		logger.Debug("session event", slog.String("type", evt.Type))
		return nil
	}
}

// OpenLogHook notes the connection opening at debug level.
func OpenLogHook(logger *slog.Logger) func() {
	return func() {
		logger.Debug("realtime connection open")
	}
}

// DebugErrorHook is the diagnostic side channel for suppressed handler failures.
func DebugErrorHook(logger *slog.Logger) func(*HandlerError) {
	return func(herr *HandlerError) {
		logger.Debug("handler error suppressed", slog.String("type", herr.Type), slog.String("error", herr.Error()))
	}
}

package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures the global slog logger.
// In production (ENVIRONMENT=production) it uses JSON output for log aggregation.
// Otherwise it uses the human-readable text handler.
func Init() {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))

	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}

	slog.SetDefault(slog.New(handler))
}

// WithContext returns a logger with the context identifier attached.
// Use this for all logging tied to one client session.
func WithContext(contextID string) *slog.Logger {
	return slog.With("context_id", contextID)
}

// WithCommand returns a logger scoped to one external command invocation.
func WithCommand(logger *slog.Logger, command string) *slog.Logger {
	return logger.With("command", command)
}

package app

import (
	"log/slog"
	"os"
	"strings"
)

// Logger is what components accept for structured output. It aliases
// *slog.Logger so call sites can attach fields with With directly.
type Logger = *slog.Logger

// parseLogLevel maps a level name to a slog.Level. Unknown names mean info.
func parseLogLevel(level string) slog.Level {
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

// NewLogger creates the process logger and installs it as the slog default.
// Format "pretty" renders single-line human-readable output for local dev;
// anything else emits structured JSON with source locations.
func NewLogger(level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     parseLogLevel(level),
		AddSource: true,
	}

	var h slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "pretty") {
		h = newPrettyHandler(os.Stdout, opts, EnvBool("PARLEY_LOG_COLOR", true))
	} else {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	root := slog.New(h)
	slog.SetDefault(root)
	return root
}

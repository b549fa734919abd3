// Package observability wires structured logging and Prometheus metrics
// for the gateway binaries.
package observability

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds a slog.Logger from LOG_LEVEL / LOG_FORMAT values.
// Unknown levels fall back to INFO; any format other than "json" uses the
// text handler.
func NewLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN", "WARNING":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

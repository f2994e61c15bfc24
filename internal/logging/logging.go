package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init sets a JSON (default) or text slog handler based on the provided format.
// Supported: "json" (default), "text". An optional level (debug, info, warn,
// error) defaults to info.
func Init(service, format string, level ...string) *slog.Logger {
	format = strings.ToLower(strings.TrimSpace(format))
	opts := &slog.HandlerOptions{}
	var badLevel string
	if len(level) > 0 && level[0] != "" {
		var lv slog.Level
		if err := lv.UnmarshalText([]byte(level[0])); err != nil {
			badLevel = level[0]
		} else {
			opts.Level = lv
		}
	}

	var handler slog.Handler
	switch format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler).With("service", service)
	slog.SetDefault(logger)

	if format != "" && format != "json" && format != "text" {
		logger.Warn("unknown log format, defaulting to json", "format", format)
	}
	if badLevel != "" {
		logger.Warn("unknown log level, defaulting to info", "level", badLevel)
	}
	return logger
}

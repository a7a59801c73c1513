package app

import (
	"io"
	"log/slog"
	"os"
)

// NewLogger returns a slog.Logger on stdout tagged with the running component.
func NewLogger(cfg *Config, component string) *slog.Logger {
	return NewLoggerTo(os.Stdout, cfg, component)
}

// NewLoggerTo is NewLogger writing to w. Command line tools log to stderr
// so that stdout stays machine readable.
func NewLoggerTo(w io.Writer, cfg *Config, component string) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true}
	if cfg == nil || !cfg.IsProduction() {
		opts.Level = slog.LevelDebug
	}
	var handler slog.Handler
	if cfg != nil && cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	logger := slog.New(handler)
	if component != "" {
		logger = logger.With(slog.String("component", component))
	}
	return logger
}

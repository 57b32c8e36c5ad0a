// Package logger builds the process's structured logger: a log/slog
// logger whose handler enriches every record with connection/experience/
// user/action fields carried on context.Context, plus optional per-module
// level overrides (spec A.1).
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New builds a slog.Logger per cfg, writing to w (stderr when w is nil). A
// zero Config yields an info-level JSON logger with no module overrides,
// the same result Default() gives when LOG_LEVEL is unset.
func New(cfg Config, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}

	var commonFields []slog.Attr
	for k, v := range cfg.CommonFields {
		commonFields = append(commonFields, slog.String(k, v))
	}

	moduleConfig := NewModuleConfig(cfg.DefaultLevel)
	for _, m := range cfg.Modules {
		moduleConfig.SetModuleLevel(m.Name, m.Level)
	}

	opts := &slog.HandlerOptions{Level: cfg.DefaultLevel}
	var base slog.Handler
	if cfg.Format == FormatText {
		base = slog.NewTextHandler(w, opts)
	} else {
		base = slog.NewJSONHandler(w, opts)
	}

	var handler slog.Handler
	if len(cfg.Modules) > 0 {
		handler = NewModuleHandler(base, moduleConfig, commonFields...)
	} else {
		handler = NewContextHandler(base, commonFields...)
	}
	return slog.New(handler)
}

// ParseLevel maps the conventional level names used in configuration
// ("debug", "info", "warn", "error") to a slog.Level, defaulting to Info
// for anything unrecognized.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
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

// Default returns a logger reading its level from the LOG_LEVEL
// environment variable, JSON-formatted to stderr, for use before a full
// Config is available. cmd/gaia-core does not call it; it logs config
// errors through slog's default logger.
func Default() *slog.Logger {
	level := slog.LevelInfo
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level = ParseLevel(v)
	}
	return New(Config{DefaultLevel: level, Format: FormatJSON}, os.Stderr)
}

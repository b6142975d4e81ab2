// Package observability provides the gateway's logging and metrics setup.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig configures logger construction.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error".
	Level string

	// FilePath, when set, sends log output to a size-rotated file instead
	// of stdout. Debug level additionally echoes to stdout.
	FilePath string

	// Format specifies output format: "json" or "text". Defaults to text.
	Format string
}

// redactPatterns cover credentials that flow through the gateway: bearer
// headers, OAuth grant parameters, and raw JWTs. Token values must never
// reach the log file.
var redactPatterns = []string{
	`(?i)(bearer|authorization)[\s:=]+["']?([a-zA-Z0-9_\-\.]{16,})["']?`,
	`(?i)(refresh_token|access_token|client_secret)[\s:="']+([a-zA-Z0-9_\-\.]{8,})`,
	`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`,
}

// NewLogger builds the process logger. Secrets matching the redaction
// patterns are masked in both messages and attribute values.
func NewLogger(cfg LogConfig) *slog.Logger {
	var out io.Writer = os.Stdout
	if cfg.FilePath != "" {
		rotated := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    10, // megabytes
			MaxBackups: 5,
		}
		if LogLevelFromString(cfg.Level) == slog.LevelDebug {
			out = io.MultiWriter(rotated, os.Stdout)
		} else {
			out = rotated
		}
	}

	opts := &slog.HandlerOptions{Level: LogLevelFromString(cfg.Level)}
	var inner slog.Handler
	if cfg.Format == "json" {
		inner = slog.NewJSONHandler(out, opts)
	} else {
		inner = slog.NewTextHandler(out, opts)
	}
	return slog.New(&redactHandler{inner: inner, redacts: compileRedacts()})
}

// LogLevelFromString converts a string to a slog.Level.
// Returns LevelInfo if the string is not recognized.
func LogLevelFromString(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func compileRedacts() []*regexp.Regexp {
	redacts := make([]*regexp.Regexp, 0, len(redactPatterns))
	for _, pattern := range redactPatterns {
		if re, err := regexp.Compile(pattern); err == nil {
			redacts = append(redacts, re)
		}
	}
	return redacts
}

// redactHandler masks sensitive substrings before records reach the
// underlying handler.
type redactHandler struct {
	inner   slog.Handler
	redacts []*regexp.Regexp
}

func (h *redactHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *redactHandler) Handle(ctx context.Context, rec slog.Record) error {
	clean := slog.NewRecord(rec.Time, rec.Level, h.redactString(rec.Message), rec.PC)
	rec.Attrs(func(a slog.Attr) bool {
		clean.AddAttrs(h.redactAttr(a))
		return true
	})
	return h.inner.Handle(ctx, clean)
}

func (h *redactHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		clean[i] = h.redactAttr(a)
	}
	return &redactHandler{inner: h.inner.WithAttrs(clean), redacts: h.redacts}
}

func (h *redactHandler) WithGroup(name string) slog.Handler {
	return &redactHandler{inner: h.inner.WithGroup(name), redacts: h.redacts}
}

func (h *redactHandler) redactAttr(a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		return slog.String(a.Key, h.redactString(a.Value.String()))
	case slog.KindGroup:
		attrs := a.Value.Group()
		clean := make([]any, 0, len(attrs))
		for _, ga := range attrs {
			clean = append(clean, h.redactAttr(ga))
		}
		return slog.Group(a.Key, clean...)
	default:
		if err, ok := a.Value.Any().(error); ok && err != nil {
			return slog.String(a.Key, h.redactString(err.Error()))
		}
		return a
	}
}

func (h *redactHandler) redactString(s string) string {
	for _, re := range h.redacts {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

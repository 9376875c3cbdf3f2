// Package observability holds the logging setup shared by the CLI and the
// orchestrator.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// LogConfig configures structured logging.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error".
	Level string

	// Format is "json" or "text". JSON for automation, text for terminals.
	Format string

	// Output defaults to os.Stderr so artifact streams stay clean on stdout.
	Output io.Writer

	// AddSource includes file and line in records.
	AddSource bool
}

// redactPatterns match credential material that must never reach a log line.
// Backend addresses may carry inline API keys.
var redactPatterns = []*regexp.Regexp{
	// Anthropic API keys
	regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{10,}`),
	// OpenAI / OpenRouter style keys
	regexp.MustCompile(`sk-[a-zA-Z0-9_-]{20,}`),
	// Inline key fragment of a backend address: provider:model#key
	regexp.MustCompile(`#[^\s"']+`),
}

// Redact strips credential material from a string.
func Redact(s string) string {
	for _, re := range redactPatterns {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

// NewLogger builds a structured logger. Unset fields default to info-level
// JSON on stderr. Every string attribute passes through credential
// redaction.
func NewLogger(config LogConfig) *slog.Logger {
	if config.Output == nil {
		config.Output = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:     LogLevelFromString(config.Level),
		AddSource: config.AddSource,
	}

	var handler slog.Handler
	if strings.ToLower(config.Format) == "text" {
		handler = slog.NewTextHandler(config.Output, opts)
	} else {
		handler = slog.NewJSONHandler(config.Output, opts)
	}
	return slog.New(&redactHandler{inner: handler})
}

// LogLevelFromString converts a string to a slog.Level, defaulting to info.
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

// redactHandler scrubs string attribute values and messages before they reach
// the underlying handler.
type redactHandler struct {
	inner slog.Handler
}

func (h *redactHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *redactHandler) Handle(ctx context.Context, rec slog.Record) error {
	clean := slog.NewRecord(rec.Time, rec.Level, Redact(rec.Message), rec.PC)
	rec.Attrs(func(a slog.Attr) bool {
		clean.AddAttrs(redactAttr(a))
		return true
	})
	return h.inner.Handle(ctx, clean)
}

func (h *redactHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	scrubbed := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		scrubbed[i] = redactAttr(a)
	}
	return &redactHandler{inner: h.inner.WithAttrs(scrubbed)}
}

func (h *redactHandler) WithGroup(name string) slog.Handler {
	return &redactHandler{inner: h.inner.WithGroup(name)}
}

func redactAttr(a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		return slog.String(a.Key, Redact(a.Value.String()))
	case slog.KindGroup:
		group := a.Value.Group()
		scrubbed := make([]any, 0, len(group))
		for _, g := range group {
			scrubbed = append(scrubbed, redactAttr(g))
		}
		return slog.Group(a.Key, scrubbed...)
	default:
		return a
	}
}

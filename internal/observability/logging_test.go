package observability

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestRedact(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"key sk-ant-abcdefghijklmnop set", "key [REDACTED] set"},
		{"openai:gpt-4o#sk-proj-aaaaaaaaaaaaaaaaaaaaaaaa", "openai:gpt-4o[REDACTED]"},
		{"anthropic:claude-3-5-sonnet-20241022", "anthropic:claude-3-5-sonnet-20241022"},
		{"plain text", "plain text"},
	}
	for _, tt := range tests {
		if got := Redact(tt.in); got != tt.want {
			t.Errorf("Redact(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewLogger_RedactsAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf})

	logger.Info("backend resolved", "address", "openai:gpt-4o#sk-secret-key-material")

	out := buf.String()
	if strings.Contains(out, "sk-secret-key-material") {
		t.Errorf("log output leaked a credential: %s", out)
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Errorf("log output not redacted: %s", out)
	}
}

func TestNewLogger_RedactsInheritedAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Format: "json", Output: &buf}).
		With("backend", "ollama:llama3#tok")

	logger.Info("job started")

	if strings.Contains(buf.String(), "#tok") {
		t.Errorf("inherited attr leaked a credential: %s", buf.String())
	}
}

func TestNewLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "text", Output: &buf})

	logger.Info("hidden")
	logger.Warn("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info record passed a warn-level logger")
	}
	if !strings.Contains(out, "visible") {
		t.Error("warn record missing")
	}
}

func TestLogLevelFromString(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":    slog.LevelDebug,
		"":         slog.LevelInfo,
		"warning":  slog.LevelWarn,
		"ERROR":    slog.LevelError,
		"verbose?": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := LogLevelFromString(in); got != want {
			t.Errorf("LogLevelFromString(%q) = %v, want %v", in, got, want)
		}
	}
}

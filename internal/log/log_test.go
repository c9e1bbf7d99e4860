package log

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q): expected %v, got %v", in, want, got)
		}
	}
}

func TestNew_FiltersByLevel(t *testing.T) {
	t.Setenv("GO_ENV", "")
	var buf bytes.Buffer
	l := New(&buf, "warn")

	l.Info("quiet")
	l.Warn("loud", "device", "cam0")

	out := buf.String()
	if strings.Contains(out, "quiet") {
		t.Errorf("Expected info suppressed, got %q", out)
	}
	if !strings.Contains(out, "loud") || !strings.Contains(out, "device=cam0") {
		t.Errorf("Expected warn line with attributes, got %q", out)
	}
}

func TestNew_ProductionUsesJSON(t *testing.T) {
	t.Setenv("GO_ENV", "production")
	var buf bytes.Buffer
	New(&buf, "info").Info("hello", "fps", 5)

	if !strings.HasPrefix(buf.String(), "{") || !strings.Contains(buf.String(), `"fps":5`) {
		t.Errorf("Expected JSON output, got %q", buf.String())
	}
}

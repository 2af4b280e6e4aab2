package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func decode(t *testing.T, line string) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("decode %q: %v", line, err)
	}
	return entry
}

// ============================================================
// Construction
// ============================================================

func TestNew_Formats(t *testing.T) {
	tests := []struct {
		format string
		want   string
	}{
		{"", `"msg":"hello"`},
		{"json", `"msg":"hello"`},
		{"JSON", `"msg":"hello"`},
		{"text", `msg=hello`},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			l, err := New(Config{Format: tt.format, Output: &buf})
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			l.Info("hello")
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("output = %q, want it to contain %q", buf.String(), tt.want)
			}
		})
	}
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"bad format", Config{Format: "xml"}},
		{"bad level", Config{Level: "verbose"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("New() error = nil, want error")
			}
		})
	}
}

func TestNew_Component(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Output: &buf, Component: "storage"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	l.Info("opened", "engine", "badger")

	entry := decode(t, buf.String())
	if entry["component"] != "storage" || entry["engine"] != "badger" {
		t.Errorf("entry = %v, want component=storage engine=badger", entry)
	}
}

// ============================================================
// Levels
// ============================================================

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, %v, want %v", tt.in, got, err, tt.want)
		}
	}
	if _, err := ParseLevel("trace"); err == nil {
		t.Error("ParseLevel(trace) error = nil, want error")
	}
}

func TestSetLevel_AffectsExistingLoggers(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "warn", Output: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = SetLevel("info") }()

	l.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info logged at warn level: %q", buf.String())
	}
	if Level() != "warn" {
		t.Errorf("Level() = %q, want warn", Level())
	}

	if err := SetLevel("debug"); err != nil {
		t.Fatalf("SetLevel() error = %v", err)
	}
	l.Debug("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Errorf("debug record missing after SetLevel(debug): %q", buf.String())
	}
	if Level() != "debug" {
		t.Errorf("Level() = %q, want debug", Level())
	}

	if err := SetLevel("loud"); err == nil {
		t.Error("SetLevel(loud) error = nil, want error")
	}
	if Level() != "debug" {
		t.Errorf("Level() after bad SetLevel = %q, want debug", Level())
	}
}

func TestDiscard(t *testing.T) {
	l := Discard()
	if l.Enabled(context.Background(), slog.LevelError) {
		t.Error("Discard() logger is enabled")
	}
	l.Error("nothing")
}

package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestLevelForVerbosity(t *testing.T) {
	tests := []struct {
		verbosity int
		want      zerolog.Level
	}{
		{-1, zerolog.ErrorLevel},
		{0, zerolog.ErrorLevel},
		{1, zerolog.WarnLevel},
		{2, zerolog.InfoLevel},
		{3, zerolog.DebugLevel},
		{7, zerolog.DebugLevel},
	}

	for _, tt := range tests {
		if got := LevelForVerbosity(tt.verbosity); got != tt.want {
			t.Errorf("LevelForVerbosity(%d) = %s, want %s", tt.verbosity, got, tt.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("debug") != zerolog.DebugLevel {
		t.Error("debug not parsed")
	}
	if ParseLevel("bogus") != zerolog.InfoLevel {
		t.Error("unknown level should default to info")
	}
}

func TestLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, LoggingConfig{Level: "info", Format: "json"}, nil)

	log := logger.WithRunID("run-1").Component("driver")
	log.Debug().Msg("hidden")
	log.Info().Str("entity", "alice").Msg("reconciled")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("Expected 1 log line, got %d: %q", len(lines), buf.String())
	}

	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("Invalid JSON log line: %v", err)
	}
	for key, want := range map[string]string{
		"level":     "info",
		"run_id":    "run-1",
		"component": "driver",
		"entity":    "alice",
		"message":   "reconciled",
	} {
		if entry[key] != want {
			t.Errorf("%s = %v, want %s", key, entry[key], want)
		}
	}
}

func TestLogger_SetLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, LoggingConfig{Level: "error", Format: "json"}, nil)

	before := logger.Component("test")
	before.Warn().Msg("dropped")
	logger.SetLevel(LevelForVerbosity(1))
	after := logger.Component("test")
	after.Warn().Msg("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") || !strings.Contains(out, "kept") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestNewLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "allocsync.log")
	logger, err := NewLogger(LoggingConfig{Level: "info", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	zl := logger.Component("test")
	zl.Info().Msg("to file")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "to file") {
		t.Errorf("log file content = %q", data)
	}
}

func TestFromContext(t *testing.T) {
	if l := FromContext(context.Background()); l == nil {
		t.Fatal("FromContext should never return nil")
	}

	logger := newLogger(&bytes.Buffer{}, LoggingConfig{Level: "info", Format: "json"}, nil)
	ctx := logger.WithContext(context.Background())
	if FromContext(ctx) != logger {
		t.Error("Expected logger stored in context")
	}
}

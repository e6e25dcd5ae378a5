package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"

	"github.com/ShayCichocki/relay/internal/config"
)

func TestNew_Levels(t *testing.T) {
	tests := []struct {
		level   string
		enabled zapcore.Level
		blocked zapcore.Level
	}{
		{"debug", zapcore.DebugLevel, zapcore.InvalidLevel},
		{"info", zapcore.InfoLevel, zapcore.DebugLevel},
		{"warn", zapcore.WarnLevel, zapcore.InfoLevel},
		{"error", zapcore.ErrorLevel, zapcore.WarnLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger, err := New(config.LoggingConfig{Level: tt.level, Format: "json"})
			if err != nil {
				t.Fatalf("New() error: %v", err)
			}
			if !logger.Core().Enabled(tt.enabled) {
				t.Errorf("level %s should be enabled", tt.enabled)
			}
			if tt.blocked != zapcore.InvalidLevel && logger.Core().Enabled(tt.blocked) {
				t.Errorf("level %s should be disabled", tt.blocked)
			}
		})
	}
}

func TestNew_Invalid(t *testing.T) {
	tests := []config.LoggingConfig{
		{Level: "loud", Format: "json"},
		{Level: "info", Format: "xml"},
	}
	for _, cfg := range tests {
		if _, err := New(cfg); err == nil {
			t.Errorf("New(%+v) should fail", cfg)
		}
	}
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "relay.log")
	logger, err := New(config.LoggingConfig{Level: "info", Format: "json", File: path})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	logger.Info("run finished")
	logger.Debug("hidden")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %d: %s", len(lines), data)
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["msg"] != "run finished" {
		t.Errorf("msg = %v", entry["msg"])
	}
}

func TestDefaultFile(t *testing.T) {
	want := filepath.Join("/repo", ".relay", "logs", "relay.log")
	if got := DefaultFile("/repo"); got != want {
		t.Errorf("DefaultFile() = %q, want %q", got, want)
	}
}

package logging

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/najoast/taskrt/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestLevel(t *testing.T) {
	tests := []struct {
		in   config.LogLevel
		want zapcore.Level
	}{
		{config.LogLevelDebug, zapcore.DebugLevel},
		{config.LogLevelInfo, zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
		{config.LogLevelWarn, zapcore.WarnLevel},
		{config.LogLevelError, zapcore.ErrorLevel},
		{config.LogLevelFatal, zapcore.FatalLevel},
	}

	for _, tt := range tests {
		got, err := Level(tt.in)
		if err != nil {
			t.Errorf("Level(%q) returned error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Level(%q): expected %v, got %v", tt.in, tt.want, got)
		}
	}

	if _, err := Level("verbose"); !errors.Is(err, config.ErrInvalidLogLevel) {
		t.Errorf("Expected ErrInvalidLogLevel, got %v", err)
	}
}

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskrt.log")

	l, level, err := New(config.LogConfig{
		Level:  config.LogLevelInfo,
		Format: "json",
		Output: path,
		Fields: map[string]interface{}{"node": "n1"},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	l.Named(KernelLogger).Debug("hidden")
	l.Named(KernelLogger).Info("task created", zap.Uint32("task", 7))
	l.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("Expected 1 log line, got %d: %q", len(lines), data)
	}

	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("Log line is not JSON: %v", err)
	}
	if entry["logger"] != KernelLogger {
		t.Errorf("Expected logger %q, got %v", KernelLogger, entry["logger"])
	}
	if entry["node"] != "n1" {
		t.Errorf("Expected static field node=n1, got %v", entry["node"])
	}
	if entry["task"] != float64(7) {
		t.Errorf("Expected task=7, got %v", entry["task"])
	}

	// Raising verbosity at runtime affects the existing logger
	if err := UpdateLevel(level, config.LogLevelDebug); err != nil {
		t.Fatalf("UpdateLevel failed: %v", err)
	}
	l.Debug("now visible")
	l.Sync()

	data, _ = os.ReadFile(path)
	if !strings.Contains(string(data), "now visible") {
		t.Error("Expected debug entry after level change")
	}
}

func TestNewErrors(t *testing.T) {
	if _, _, err := New(config.LogConfig{Level: "loud"}); err == nil {
		t.Error("Expected error for invalid level")
	}

	bad := filepath.Join(t.TempDir(), "missing", "dir", "out.log")
	if _, _, err := New(config.LogConfig{Output: bad}); err == nil {
		t.Error("Expected error for unopenable output")
	}
}

func TestNewForConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Log.Output = "stderr"

	l, level, err := NewForConfig(cfg)
	if err != nil {
		t.Fatalf("NewForConfig failed: %v", err)
	}
	if l == nil {
		t.Fatal("Expected logger")
	}
	if level.Level() != zapcore.InfoLevel {
		t.Errorf("Expected info level, got %v", level.Level())
	}
}

func TestSetLogger(t *testing.T) {
	defer SetLogger(nil)

	if Logger() == nil {
		t.Fatal("Expected default logger")
	}

	custom := zap.NewExample()
	SetLogger(custom)
	if Logger() != custom {
		t.Error("Expected custom logger after SetLogger")
	}
}

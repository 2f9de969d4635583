package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

// TestNewDevelopmentLogger confirms the development logger builds and logs.
func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(true)
	if err != nil {
		t.Fatalf("New(true) error = %v", err)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	logger.Info("development logger ready")
}

// TestNewProductionLoggerToFile writes JSON at the requested level.
func TestNewProductionLoggerToFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "harvest.log")
	logger, err := New(false, WithLevel(zapcore.WarnLevel), WithOutputs(path))
	if err != nil {
		t.Fatalf("New(false) error = %v", err)
	}
	logger.Info("dropped")
	logger.Warn("kept")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(data)
	if strings.Contains(out, "dropped") || !strings.Contains(out, `"msg":"kept"`) {
		t.Fatalf("unexpected log output: %s", out)
	}
	if !strings.Contains(out, `"ts":`) {
		t.Fatalf("expected ts key in %s", out)
	}
}

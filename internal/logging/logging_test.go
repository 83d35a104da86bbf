package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"

	"github.com/syncclock/timingsvc/internal/config"
)

func TestNewDefaultsUnknownLevelToInfo(t *testing.T) {
	logger, err := New(config.LogConfig{Level: "not-a-level", JSON: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer logger.Sync()

	if !logger.Core().Enabled(zapcore.InfoLevel) {
		t.Error("expected info level to be enabled by default")
	}
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("expected debug level to be disabled at the default info level")
	}
}

func TestNewHonorsDebugLevel(t *testing.T) {
	logger, err := New(config.LogConfig{Level: "debug", JSON: false})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer logger.Sync()

	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("expected debug level to be enabled")
	}
}

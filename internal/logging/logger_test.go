// Package logging includes tests for the zap logger helpers.
package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

// TestNewDevelopmentLogger confirms the development logger builds and logs.
func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(Options{Development: true, Level: "debug"})
	if err != nil {
		t.Fatalf("New(dev) error = %v", err)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("expected debug level to be enabled")
	}
	logger.Info("development logger ready")
}

// TestNewProductionLogger ensures the production logger honors the level.
func TestNewProductionLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(Options{Level: "warn"})
	if err != nil {
		t.Fatalf("New(prod) error = %v", err)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatal("expected info to be disabled at warn level")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	if lvl, err := ParseLevel(""); err != nil || lvl != zapcore.InfoLevel {
		t.Fatalf("expected info default, got %v err=%v", lvl, err)
	}
	if lvl, err := ParseLevel(" ERROR "); err != nil || lvl != zapcore.ErrorLevel {
		t.Fatalf("expected error level, got %v err=%v", lvl, err)
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
	if OrNop(nil) == nil {
		t.Fatal("expected nop logger")
	}
}

package logger

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerInit(t *testing.T) {
	if err := Init(); err != nil {
		t.Fatalf("failed to initialize json logger: %v", err)
	}
	if Get() == nil {
		t.Fatal("logger is nil after initialization")
	}

	if err := InitWithOptions(Options{Format: "console", Service: "parcelcast-test"}); err != nil {
		t.Fatalf("failed to initialize console logger: %v", err)
	}
	defer func() {
		if err := Sync(); err != nil {
			t.Errorf("failed to sync logger: %v", err)
		}
	}()

	if Get() == nil {
		t.Fatal("logger is nil after initialization")
	}
	Get().Info(context.Background(), "test message", String("k", "v"))
}

func TestLoggerNamed(t *testing.T) {
	if err := Init(); err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}

	namedLogger := Named("test")
	if namedLogger == nil {
		t.Fatal("named logger is nil")
	}
	namedLogger.Info(context.Background(), "test message")
}

func TestLoggerFieldsReachCore(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := New(zap.New(core)).Named("gateway")

	l.Warn(context.Background(), "backplane unavailable",
		String("mode", "local"),
		Int("attempt", 2),
		Error(errors.New("dial tcp: refused")),
	)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.LoggerName != "gateway" {
		t.Errorf("expected logger name gateway, got %q", e.LoggerName)
	}
	fields := e.ContextMap()
	if fields["mode"] != "local" {
		t.Errorf("expected mode=local, got %v", fields["mode"])
	}
	if fields["error"] != "dial tcp: refused" {
		t.Errorf("expected error field, got %v", fields["error"])
	}
	if _, ok := fields["source"]; !ok {
		t.Error("expected source field")
	}
}

func TestSetLevelString(t *testing.T) {
	cases := map[string]bool{
		"debug":   true,
		"INFO":    true,
		"":        true,
		"warning": true,
		"error":   true,
		"verbose": false,
	}
	for in, ok := range cases {
		err := SetLevelString(in)
		if ok && err != nil {
			t.Errorf("SetLevelString(%q) unexpected error: %v", in, err)
		}
		if !ok && err == nil {
			t.Errorf("SetLevelString(%q) expected error", in)
		}
	}
	_ = SetLevelString("info")
}

func TestNop(t *testing.T) {
	l := Nop()
	l.Info(context.Background(), "discarded")
	l.Named("x").Debug(context.Background(), "discarded")
}

package logging

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := NewLogger("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestNewLoggerDefaultsToInfo(t *testing.T) {
	logger, err := NewLogger("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if logger.Core().Enabled(zap.DebugLevel) {
		t.Fatal("debug should be disabled by default")
	}
	if !logger.Core().Enabled(zap.InfoLevel) {
		t.Fatal("info should be enabled by default")
	}
}

func TestWithOperationAddsFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	WithOperation(zap.New(core), "gateway.remove_background", "req-1").Info("hello")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["operation"] != "gateway.remove_background" {
		t.Fatalf("unexpected operation field: %v", fields["operation"])
	}
	if fields["request_id"] != "req-1" {
		t.Fatalf("unexpected request_id field: %v", fields["request_id"])
	}
}

func TestWithOperationOmitsEmptyRequestID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	WithOperation(zap.New(core), "startup", "").Info("hello")

	if _, ok := logs.All()[0].ContextMap()["request_id"]; ok {
		t.Fatal("request_id should be omitted when empty")
	}
}

func TestOperationErrorUnwraps(t *testing.T) {
	base := errors.New("boom")
	err := NewOperationError("storage.upload", "req-9", base)

	if !errors.Is(err, base) {
		t.Fatal("expected errors.Is to match wrapped error")
	}
	if got, want := err.Error(), "storage.upload (request_id=req-9): boom"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if NewOperationError("noop", "", nil) != nil {
		t.Fatal("nil error should stay nil")
	}
}

func TestOperationOf(t *testing.T) {
	err := NewOperationError("falclient.run", "", errors.New("x"))
	wrapped := errors.Join(errors.New("outer"), err)

	if got := OperationOf(wrapped); got != "falclient.run" {
		t.Fatalf("got %q", got)
	}
	if got := OperationOf(errors.New("plain")); got != "" {
		t.Fatalf("expected empty operation, got %q", got)
	}
}

func TestEnsureRequestID(t *testing.T) {
	ctx, id := EnsureRequestID(context.Background())
	if id == "" {
		t.Fatal("expected generated id")
	}
	if RequestIDFrom(ctx) != id {
		t.Fatal("id not stored on context")
	}

	same, again := EnsureRequestID(ctx)
	if again != id || same != ctx {
		t.Fatal("existing id should be reused")
	}
}

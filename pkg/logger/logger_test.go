package logger

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestCorrelationIDRoundTrip(t *testing.T) {
	ctx := ContextWithCorrelationID(context.Background(), "frame-42")
	if got := CorrelationIDFromContext(ctx); got != "frame-42" {
		t.Fatalf("expected correlation ID %q, got %q", "frame-42", got)
	}
}

func TestCorrelationIDFromContextMissing(t *testing.T) {
	if got := CorrelationIDFromContext(context.Background()); got != "" {
		t.Fatalf("expected empty correlation ID, got %q", got)
	}
	if got := CorrelationIDFromContext(nil); got != "" { //nolint:staticcheck
		t.Fatalf("expected empty correlation ID for nil context, got %q", got)
	}
}

func TestWithContextAttachesCorrelationID(t *testing.T) {
	core, recorded := observer.New(zapcore.InfoLevel)
	original := log
	log = zap.New(core)
	defer func() { log = original }()

	ctx := ContextWithCorrelationID(context.Background(), "ctx-7")
	WithContext(ctx).Info("hello")

	entries := recorded.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	if got, ok := entries[0].ContextMap()["correlation_id"]; !ok || got != "ctx-7" {
		t.Fatalf("expected correlation_id field ctx-7, got %v (present=%v)", got, ok)
	}
}

func TestNamedScopesLogger(t *testing.T) {
	core, recorded := observer.New(zapcore.InfoLevel)
	original := log
	log = zap.New(core)
	defer func() { log = original }()

	Named("sweeper").Info("tick")

	entries := recorded.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	if entries[0].LoggerName != "sweeper" {
		t.Fatalf("expected logger name sweeper, got %q", entries[0].LoggerName)
	}
}

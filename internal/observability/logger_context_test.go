package observability

import (
	"context"
	"log/slog"
	"testing"
)

func TestContextWithLoggerAndLoggerFromContext(t *testing.T) {
	lg := slog.Default()

	baseCtx := context.Background()

	// Attaching a logger should return a derived context
	ctxWithLogger := ContextWithLogger(baseCtx, lg)
	if ctxWithLogger == baseCtx {
		t.Fatal("expected a derived context when attaching a logger")
	}

	// Logger should round-trip through context
	if got := LoggerFromContext(ctxWithLogger); got != lg {
		t.Fatalf("LoggerFromContext did not return original logger, got %v", got)
	}

	// When logger is nil, original context should be returned unchanged
	if got := ContextWithLogger(baseCtx, nil); got != baseCtx {
		t.Fatal("expected original context when logger is nil")
	}

	// Default logger should be returned when context has no logger
	if got := LoggerFromContext(context.Background()); got == nil {
		t.Fatal("expected default logger for empty context")
	}
}

func TestContextWithRequestIDAndRequestIDFromContext(t *testing.T) {
	ctx := context.Background()
	reqID := "req-123"
	ctxWithID := ContextWithRequestID(ctx, reqID)

	if ctxWithID == ctx {
		t.Fatal("expected a derived context when setting request ID")
	}

	if got := RequestIDFromContext(ctxWithID); got != reqID {
		t.Fatalf("RequestIDFromContext() = %q, want %q", got, reqID)
	}

	// Missing request ID should return empty string
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Fatalf("expected empty string when no request ID present, got %q", got)
	}
}

func TestContextWithRequestID_EmptyRequestID(t *testing.T) {
	ctx := context.Background()
	// Empty request ID should return original context
	result := ContextWithRequestID(ctx, "")
	if result != ctx {
		t.Fatal("expected original context when request ID is empty")
	}
}

func TestContextWithSessionIDAndSessionIDFromContext(t *testing.T) {
	ctx := context.Background()
	sessionID := "01J9ZX3V5E8Q2T4W6Y8A0C2E4G"
	ctxWithID := ContextWithSessionID(ctx, sessionID)

	if ctxWithID == ctx {
		t.Fatal("expected a derived context when setting session ID")
	}

	if got := SessionIDFromContext(ctxWithID); got != sessionID {
		t.Fatalf("SessionIDFromContext() = %q, want %q", got, sessionID)
	}

	// Missing session ID should return empty string
	if got := SessionIDFromContext(context.Background()); got != "" {
		t.Fatalf("expected empty string when no session ID present, got %q", got)
	}
}

func TestContextWithSessionID_EmptySessionID(t *testing.T) {
	ctx := context.Background()
	// Empty session ID should return original context
	result := ContextWithSessionID(ctx, "")
	if result != ctx {
		t.Fatal("expected original context when session ID is empty")
	}
}

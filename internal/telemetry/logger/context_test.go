package logger

import (
	"context"
	"testing"

	"github.com/oklog/ulid/v2"
)

func TestWithRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-12345")
	if got := RequestIDFromContext(ctx); got != "req-12345" {
		t.Errorf("RequestIDFromContext() = %q, want %q", got, "req-12345")
	}
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Errorf("RequestIDFromContext() = %q, want empty string", got)
	}
}

func TestNewRequestID(t *testing.T) {
	a, b := NewRequestID(), NewRequestID()
	if a == b {
		t.Errorf("NewRequestID() returned %q twice", a)
	}
	if _, err := ulid.Parse(a); err != nil {
		t.Errorf("NewRequestID() = %q is not a ULID: %v", a, err)
	}
	if a >= b {
		t.Errorf("request ids not increasing: %q then %q", a, b)
	}
}

package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestRetrievalError_IsMatchesByCode(t *testing.T) {
	t.Parallel()

	inner := NewRetrievalError(ErrCodeChallengeUnresolved, "challenge still present after 30s", nil)
	outer := NewRetrievalError(ErrCodeExhausted, "all 2 attempts failed", inner)

	if !errors.Is(outer, ErrExhausted) {
		t.Error("outer should match ErrExhausted")
	}
	if !errors.Is(outer, ErrChallengeUnresolved) {
		t.Error("outer should match the wrapped ErrChallengeUnresolved")
	}
	if errors.Is(outer, ErrTransport) {
		t.Error("outer should not match ErrTransport")
	}
}

func TestRetrievalError_Unwrap(t *testing.T) {
	t.Parallel()

	err := NewRetrievalError(ErrCodeTimeout, "deadline exceeded", context.DeadlineExceeded)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("expected errors.Is to reach context.DeadlineExceeded")
	}
}

func TestRetrievalError_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *RetrievalError
		want string
	}{
		{"code only", &RetrievalError{Code: ErrCodeTransport}, "TRANSPORT_ERROR"},
		{"with message", NewRetrievalError(ErrCodeTransport, "navigation failed", nil), "TRANSPORT_ERROR: navigation failed"},
		{"with cause", NewRetrievalError(ErrCodeTransport, "navigation failed", errors.New("net::ERR_CONNECTION_RESET")), "TRANSPORT_ERROR: navigation failed: net::ERR_CONNECTION_RESET"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCodeOf(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("fetch: %w", NewRetrievalError(ErrCodeScreenshotWrite, "mkdir failed", nil))
	if got := CodeOf(wrapped); got != ErrCodeScreenshotWrite {
		t.Errorf("CodeOf = %q, want %q", got, ErrCodeScreenshotWrite)
	}
	if got := CodeOf(errors.New("plain")); got != ErrCodeInternal {
		t.Errorf("CodeOf(plain) = %q, want %q", got, ErrCodeInternal)
	}
}

func TestToDetail_IncludesCause(t *testing.T) {
	t.Parallel()

	d := NewRetrievalError(ErrCodeExhausted, "all 3 attempts failed", errors.New("boom")).ToDetail()
	if d.Code != ErrCodeExhausted {
		t.Errorf("Code = %q", d.Code)
	}
	if !strings.Contains(d.Message, "boom") {
		t.Errorf("Message %q should include the cause", d.Message)
	}
}

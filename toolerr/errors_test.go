package toolerr

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestError_IsSentinel(t *testing.T) {
	tests := []struct {
		kind     Kind
		sentinel error
	}{
		{KindUnknownTool, ErrUnknownTool},
		{KindAccessDenied, ErrAccessDenied},
		{KindConnectionLost, ErrConnectionLost},
		{KindTimeout, ErrTimeout},
		{KindCircuitOpen, ErrCircuitOpen},
		{KindPermanentlyDisabled, ErrPermanentlyDisabled},
		{KindProtocol, ErrProtocol},
		{KindTool, ErrTool},
		{KindRateLimited, ErrRateLimited},
		{KindInvalidRequest, ErrInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			err := fmt.Errorf("wrapped: %w", New(tt.kind, "aws", "kv_get", nil))
			if !errors.Is(err, tt.sentinel) {
				t.Errorf("errors.Is(%v, %v) = false, want true", err, tt.sentinel)
			}
			if got := KindOf(err); got != tt.kind {
				t.Errorf("KindOf() = %q, want %q", got, tt.kind)
			}
		})
	}
}

func TestError_DoesNotMatchOtherKinds(t *testing.T) {
	err := New(KindTimeout, "aws", "kv_get", nil)
	if errors.Is(err, ErrConnectionLost) {
		t.Error("timeout error should not match ErrConnectionLost")
	}
}

func TestError_Unwrap(t *testing.T) {
	err := New(KindTimeout, "aws", "kv_get", context.DeadlineExceeded)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("expected errors.Is to reach the underlying cause")
	}
}

func TestError_Message(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "full",
			err:  New(KindConnectionLost, "aws", "kv_get", errors.New("broken pipe")),
			want: "connection lost (server aws) (tool kv_get): broken pipe",
		},
		{
			name: "tool only",
			err:  New(KindUnknownTool, "", "nope", nil),
			want: "unknown tool (tool nope)",
		},
		{
			name: "unclassified kind",
			err:  &Error{Kind: "custom"},
			want: "custom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	if got := KindOf(nil); got != "" {
		t.Errorf("KindOf(nil) = %q, want empty", got)
	}
	if got := KindOf(errors.New("plain")); got != "" {
		t.Errorf("KindOf(plain) = %q, want empty", got)
	}
	if got := KindOf(fmt.Errorf("ctx: %w", ErrCircuitOpen)); got != KindCircuitOpen {
		t.Errorf("KindOf(sentinel) = %q, want %q", got, KindCircuitOpen)
	}
}

func TestRetryable(t *testing.T) {
	retryable := map[Kind]bool{
		KindConnectionLost:      true,
		KindTimeout:             true,
		KindCircuitOpen:         true,
		KindRateLimited:         true,
		KindUnknownTool:         false,
		KindAccessDenied:        false,
		KindPermanentlyDisabled: false,
		KindProtocol:            false,
		KindTool:                false,
		KindInvalidRequest:      false,
	}
	for kind, want := range retryable {
		if got := Retryable(New(kind, "", "", nil)); got != want {
			t.Errorf("Retryable(%s) = %v, want %v", kind, got, want)
		}
	}
}

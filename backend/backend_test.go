package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestIsConnectionLoss(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"sentinel", ErrConnectionLost, true},
		{"not connected", fmt.Errorf("call: %w", ErrNotConnected), true},
		{"eof", io.EOF, true},
		{"wrapped eof", fmt.Errorf("read: %w", io.ErrUnexpectedEOF), true},
		{"broken pipe text", errors.New("write |1: broken pipe"), true},
		{"closed text", errors.New("Connection Closed by peer"), true},
		{"tool failure", ErrToolFailed, false},
		{"plain", errors.New("table not found"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsConnectionLoss(tt.err); got != tt.want {
				t.Errorf("IsConnectionLoss(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestEventType_String(t *testing.T) {
	if EventClosed.String() != "closed" {
		t.Errorf("EventClosed.String() = %q", EventClosed.String())
	}
	if EventError.String() != "error" {
		t.Errorf("EventError.String() = %q", EventError.String())
	}
	if EventType(0).String() != "unknown" {
		t.Errorf("EventType(0).String() = %q", EventType(0).String())
	}
}

func TestCallerContext(t *testing.T) {
	if _, ok := CallerFrom(context.Background()); ok {
		t.Fatal("CallerFrom(empty) ok = true, want false")
	}

	ctx := WithCaller(context.Background(), Caller{UserID: "u1", OrganizationID: "org-9"})
	got, ok := CallerFrom(ctx)
	if !ok {
		t.Fatal("CallerFrom() ok = false, want true")
	}
	if got.UserID != "u1" || got.OrganizationID != "org-9" {
		t.Errorf("CallerFrom() = %+v", got)
	}
}

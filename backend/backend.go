package backend

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/jonwraymond/toolfoundation/model"
)

// Common errors for transport operations.
var (
	ErrNotConnected   = errors.New("transport not connected")
	ErrConnectionLost = errors.New("transport connection lost")
	ErrTimeout        = errors.New("transport call timed out")
	ErrToolNotFound   = errors.New("tool not found in backend")
	ErrToolFailed     = errors.New("tool reported failure")
	ErrMalformed      = errors.New("malformed response")

	// ErrInvalidArguments means the server rejected the call's arguments
	// without running the tool.
	ErrInvalidArguments = errors.New("invalid tool arguments")
)

// Transport is the uniform contract over one backend tool server.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: Connect, Call and ListTools must honor cancellation/deadlines.
// - Connect is idempotent; calling it while connected is a no-op.
// - Close releases the channel and must be safe to call multiple times.
// - Errors: use ErrNotConnected/ErrConnectionLost/ErrTimeout/ErrToolFailed/
// ErrToolNotFound/ErrInvalidArguments where applicable; other errors are
// treated as protocol errors.
type Transport interface {
	// Kind returns the transport type (e.g., "stdio", "bus", "local").
	Kind() string

	// Name returns the server name this transport is bound to.
	Name() string

	// Connect establishes the channel, including any handshake.
	Connect(ctx context.Context) error

	// Call invokes one tool and returns its result value.
	Call(ctx context.Context, tool string, args map[string]any) (any, error)

	// ListTools returns the tools the server currently reports.
	ListTools(ctx context.Context) ([]model.Tool, error)

	// Close releases the channel.
	Close() error
}

// EventType identifies an asynchronous channel notification.
type EventType int

const (
	// EventClosed reports that the channel closed without an error.
	EventClosed EventType = iota + 1

	// EventError reports that the channel failed with an error.
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventClosed:
		return "closed"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is an asynchronous channel notification, delivered independently
// of any in-flight call.
type Event struct {
	Type EventType
	Err  error
}

// EventSource is implemented by transports that detect channel failures
// outside of calls (a subprocess exiting, a reader hitting a bad frame).
//
// Contract:
// - The handler is invoked from a transport-owned goroutine, never while
// the transport holds its own lock.
// - No event is delivered for a channel closed through Close.
type EventSource interface {
	SetEventHandler(func(Event))
}

// Factory builds a transport for a descriptor.
type Factory func(d Descriptor) (Transport, error)

var connectionLossSignatures = []string{
	"connection closed",
	"connection reset",
	"broken pipe",
	"file already closed",
	"use of closed",
	"process exited",
	"client is closing",
}

// IsConnectionLoss reports whether err looks like a dropped channel rather
// than a server-side failure.
func IsConnectionLoss(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConnectionLost) || errors.Is(err, ErrNotConnected) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range connectionLossSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

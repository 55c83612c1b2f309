// Package toolerr defines the error taxonomy shared by every layer of the
// relay: router, enricher, supervisor and gateway all report failures as a
// *Error carrying a Kind, so callers can tell retryable failures from
// permanent ones with errors.Is or KindOf.
package toolerr

import (
	"errors"
	"fmt"
)

// Kind classifies a tool call failure.
type Kind string

// Failure kinds.
const (
	KindUnknownTool         Kind = "unknown_tool"
	KindAccessDenied        Kind = "access_denied"
	KindConnectionLost      Kind = "connection_lost"
	KindTimeout             Kind = "timeout"
	KindCircuitOpen         Kind = "circuit_open"
	KindPermanentlyDisabled Kind = "permanently_disabled"
	KindProtocol            Kind = "protocol_error"
	KindTool                Kind = "tool_error"
	KindRateLimited         Kind = "rate_limited"
	KindInvalidRequest      Kind = "invalid_request"
)

// Sentinel errors, one per Kind. A *Error matches the sentinel of its kind
// under errors.Is.
var (
	// ErrUnknownTool indicates that no registered server owns the tool name.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrAccessDenied indicates that the caller is not a member of the
	// requested organization.
	ErrAccessDenied = errors.New("access denied")

	// ErrConnectionLost indicates that the transport dropped mid-call or
	// could not be (re)established.
	ErrConnectionLost = errors.New("connection lost")

	// ErrTimeout indicates that the call exceeded its deadline.
	ErrTimeout = errors.New("call timed out")

	// ErrCircuitOpen indicates that the server's circuit breaker is open.
	ErrCircuitOpen = errors.New("circuit open")

	// ErrPermanentlyDisabled indicates that the server was disabled after an
	// unrecoverable protocol failure.
	ErrPermanentlyDisabled = errors.New("server permanently disabled")

	// ErrProtocol indicates a malformed response from an otherwise healthy
	// server.
	ErrProtocol = errors.New("protocol error")

	// ErrTool indicates that the server executed the tool and the tool
	// reported failure.
	ErrTool = errors.New("tool error")

	// ErrRateLimited indicates that the caller's tenant exceeded its call
	// budget.
	ErrRateLimited = errors.New("rate limited")

	// ErrInvalidRequest indicates a malformed call (empty tool name, bad
	// arguments for a scoped tool family).
	ErrInvalidRequest = errors.New("invalid request")
)

var sentinels = map[Kind]error{
	KindUnknownTool:         ErrUnknownTool,
	KindAccessDenied:        ErrAccessDenied,
	KindConnectionLost:      ErrConnectionLost,
	KindTimeout:             ErrTimeout,
	KindCircuitOpen:         ErrCircuitOpen,
	KindPermanentlyDisabled: ErrPermanentlyDisabled,
	KindProtocol:            ErrProtocol,
	KindTool:                ErrTool,
	KindRateLimited:         ErrRateLimited,
	KindInvalidRequest:      ErrInvalidRequest,
}

// Retryable reports whether a caller may reasonably retry a call that failed
// with this kind.
func (k Kind) Retryable() bool {
	switch k {
	case KindConnectionLost, KindTimeout, KindCircuitOpen, KindRateLimited:
		return true
	default:
		return false
	}
}

// Sentinel returns the sentinel error for the kind, or nil for an unknown
// kind.
func (k Kind) Sentinel() error {
	return sentinels[k]
}

// Error is a classified tool call failure.
type Error struct {
	// Kind classifies the failure.
	Kind Kind

	// Server is the backend server involved, if known.
	Server string

	// Tool is the tool name involved, if known.
	Tool string

	// Err is the underlying cause, if any.
	Err error
}

// New builds a classified error.
func New(kind Kind, server, tool string, err error) *Error {
	return &Error{Kind: kind, Server: server, Tool: tool, Err: err}
}

// Error returns a message of the form "<kind>: server=<s> tool=<t>: <cause>".
func (e *Error) Error() string {
	msg := string(e.Kind)
	if s := e.Kind.Sentinel(); s != nil {
		msg = s.Error()
	}
	if e.Server != "" {
		msg += fmt.Sprintf(" (server %s)", e.Server)
	}
	if e.Tool != "" {
		msg += fmt.Sprintf(" (tool %s)", e.Tool)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel error of the same kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.Sentinel()
	return s != nil && target == s
}

// Retryable reports whether the error's kind is retryable.
func (e *Error) Retryable() bool {
	return e.Kind.Retryable()
}

// KindOf extracts the Kind of err. It returns the empty Kind when err is nil
// or carries no classification.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	for kind, s := range sentinels {
		if errors.Is(err, s) {
			return kind
		}
	}
	return ""
}

// Retryable reports whether err is classified with a retryable kind.
func Retryable(err error) bool {
	return KindOf(err).Retryable()
}

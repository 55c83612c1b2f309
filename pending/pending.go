// Package pending tracks in-flight calls awaiting a correlated response.
//
// A Table is owned by one gateway. Each call is registered under a request
// id with its own deadline; the entry is removed by whichever happens first
// of Resolve, deadline expiry, Cancel or Close. Resolution is at-most-once:
// a response arriving after expiry is reported as unmatched and dropped.
package pending

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Errors returned by Table and Call.
var (
	ErrDuplicate = errors.New("duplicate request id")
	ErrClosed    = errors.New("pending table closed")
	ErrExpired   = errors.New("pending call expired")
)

// Result is the outcome delivered to a waiting call.
type Result struct {
	Value any
	Err   error
}

// Call is a registered in-flight call.
type Call struct {
	ID       string
	Deadline time.Time

	done  chan Result
	table *Table
	timer *time.Timer
}

// Await blocks until the call is resolved, expires, or ctx is done.
// Cancellation through ctx removes the entry.
func (c *Call) Await(ctx context.Context) (any, error) {
	select {
	case r := <-c.done:
		return r.Value, r.Err
	case <-ctx.Done():
		c.table.Cancel(c.ID)
		return nil, ctx.Err()
	}
}

// Done returns a channel that receives the result exactly once.
func (c *Call) Done() <-chan Result {
	return c.done
}

// Table maps request ids to waiting calls.
type Table struct {
	mu     sync.Mutex
	calls  map[string]*Call
	closed bool
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{calls: make(map[string]*Call)}
}

// Register records a call under id that expires after timeout.
// A non-positive timeout means the call never expires on its own.
func (t *Table) Register(id string, timeout time.Duration) (*Call, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrClosed
	}
	if _, ok := t.calls[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, id)
	}

	c := &Call{
		ID:    id,
		done:  make(chan Result, 1),
		table: t,
	}
	if timeout > 0 {
		c.Deadline = time.Now().Add(timeout)
		c.timer = time.AfterFunc(timeout, func() {
			t.finish(id, Result{Err: fmt.Errorf("%w after %s", ErrExpired, timeout)})
		})
	}
	t.calls[id] = c
	return c, nil
}

// Resolve delivers a value to the call registered under id. It reports
// false when no such call is pending (already resolved, expired, unknown).
func (t *Table) Resolve(id string, value any) bool {
	return t.finish(id, Result{Value: value})
}

// Fail delivers an error to the call registered under id.
func (t *Table) Fail(id string, err error) bool {
	return t.finish(id, Result{Err: err})
}

// Cancel removes the call without delivering a result.
func (t *Table) Cancel(id string) {
	t.mu.Lock()
	c, ok := t.calls[id]
	if ok {
		delete(t.calls, id)
	}
	t.mu.Unlock()

	if ok && c.timer != nil {
		c.timer.Stop()
	}
}

// Len returns the number of pending calls.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

// Close fails every pending call with ErrClosed and rejects new ones.
func (t *Table) Close() {
	t.mu.Lock()
	calls := t.calls
	t.calls = make(map[string]*Call)
	t.closed = true
	t.mu.Unlock()

	for _, c := range calls {
		if c.timer != nil {
			c.timer.Stop()
		}
		c.done <- Result{Err: ErrClosed}
	}
}

func (t *Table) finish(id string, r Result) bool {
	t.mu.Lock()
	c, ok := t.calls[id]
	if ok {
		delete(t.calls, id)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	// Buffered and removed from the map under lock, so this send happens
	// exactly once and never blocks.
	c.done <- r
	return true
}

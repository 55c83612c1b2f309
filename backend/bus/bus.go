package bus

import (
	"context"
	"errors"
)

// ErrClosed is returned by a Bus that has been closed.
var ErrClosed = errors.New("bus closed")

// Handler receives the raw payload of one message.
type Handler func(payload []byte)

// Bus is the minimal publish/subscribe surface a bus transport needs.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Subscribe returns a function that stops delivery; it must be safe to
// call more than once.
// - Handlers may be invoked concurrently.
type Bus interface {
	// Publish sends payload to topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe delivers every message on topic to h until the returned
	// stop function is called.
	Subscribe(ctx context.Context, topic string, h Handler) (stop func(), err error)

	// Ping verifies that topic is reachable.
	Ping(ctx context.Context, topic string) error
}

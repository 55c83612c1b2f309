package bus

import (
	"context"
	"slices"
	"sync"
)

// MemoryBus is an in-process Bus. Messages are delivered asynchronously,
// one goroutine per subscriber per message, so publishers never block on
// slow handlers.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string][]*subscription
	closed bool
	wg     sync.WaitGroup
}

type subscription struct {
	h       Handler
	stopped bool
}

// NewMemoryBus creates an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string][]*subscription)}
}

// Publish delivers payload to every current subscriber of topic.
func (b *MemoryBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	for _, s := range b.subs[topic] {
		data := slices.Clone(payload)
		b.wg.Add(1)
		go func(s *subscription) {
			defer b.wg.Done()
			b.mu.RLock()
			stopped := s.stopped
			b.mu.RUnlock()
			if !stopped {
				s.h(data)
			}
		}(s)
	}
	return nil
}

// Subscribe registers h for topic.
func (b *MemoryBus) Subscribe(_ context.Context, topic string, h Handler) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	s := &subscription{h: h}
	b.subs[topic] = append(b.subs[topic], s)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			s.stopped = true
			b.subs[topic] = slices.DeleteFunc(b.subs[topic], func(x *subscription) bool { return x == s })
		})
	}, nil
}

// Ping reports ErrClosed once the bus is closed.
func (b *MemoryBus) Ping(ctx context.Context, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close stops all delivery and waits for in-flight handlers.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, subs := range b.subs {
		for _, s := range subs {
			s.stopped = true
		}
	}
	b.subs = make(map[string][]*subscription)
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}

var _ Bus = (*MemoryBus)(nil)

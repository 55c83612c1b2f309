package backend

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownTransport is returned when no factory is registered for a kind.
var ErrUnknownTransport = errors.New("unknown transport kind")

// Registry maps transport kinds to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty transport registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// RegisterFactory registers a factory for a transport kind, replacing any
// previous factory for that kind.
func (r *Registry) RegisterFactory(kind string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if kind == "" || factory == nil {
		return
	}
	r.factories[kind] = factory
}

// Has reports whether a factory is registered for kind.
func (r *Registry) Has(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[kind]
	return ok
}

// Build validates the descriptor and builds its transport.
func (r *Registry) Build(d Descriptor) (Transport, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	factory, ok := r.factories[d.Transport]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTransport, d.Transport)
	}

	t, err := factory(d.Clone())
	if err != nil {
		return nil, fmt.Errorf("build %s transport for %s: %w", d.Transport, d.Name, err)
	}
	if t == nil {
		return nil, fmt.Errorf("build %s transport for %s: factory returned nil", d.Transport, d.Name)
	}
	return t, nil
}

// Kinds returns registered transport kinds sorted for deterministic output.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for kind := range r.factories {
		out = append(out, kind)
	}
	sort.Strings(out)
	return out
}

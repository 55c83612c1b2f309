// Package local provides an in-process transport backed by Go handlers.
// It serves built-in tools and doubles as a controllable backend in tests.
package local

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jonwraymond/toolfoundation/model"
	"github.com/jonwraymond/toolrelay/backend"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Kind is the transport kind for in-process handlers.
const Kind = "local"

// HandlerFunc is the function signature for tool handlers.
type HandlerFunc func(ctx context.Context, args map[string]any) (any, error)

// ToolDef defines a local tool with its handler.
type ToolDef struct {
	Name        string
	Description string
	InputSchema map[string]any
	Annotations *mcp.ToolAnnotations
	Tags        []string
	Handler     HandlerFunc
}

// Transport implements backend.Transport for local tool handlers.
type Transport struct {
	name string

	mu        sync.RWMutex
	handlers  map[string]ToolDef
	connected bool
	onEvent   func(backend.Event)
	connects  int
}

// New creates a new local transport.
func New(name string) *Transport {
	return &Transport{
		name:     name,
		handlers: make(map[string]ToolDef),
	}
}

// Factory builds local transports from descriptors. Handlers must be
// registered on the returned transport before it is useful.
func Factory(d backend.Descriptor) (backend.Transport, error) {
	return New(d.Name), nil
}

// Kind returns the transport kind.
func (t *Transport) Kind() string { return Kind }

// Name returns the server name.
func (t *Transport) Name() string { return t.name }

// RegisterHandler registers a tool handler.
func (t *Transport) RegisterHandler(name string, def ToolDef) {
	if def.Name == "" {
		def.Name = name
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[name] = def
}

// UnregisterHandler removes a tool handler.
func (t *Transport) UnregisterHandler(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.handlers, name)
}

// SetEventHandler implements backend.EventSource.
func (t *Transport) SetEventHandler(fn func(backend.Event)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEvent = fn
}

// Connect marks the transport connected.
func (t *Transport) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		t.connected = true
		t.connects++
	}
	return nil
}

// Connects returns how many times the transport went from closed to
// connected.
func (t *Transport) Connects() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connects
}

// Connected reports whether the transport is connected.
func (t *Transport) Connected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// Drop simulates the channel failing underneath the owner: the transport
// disconnects and an event is delivered to the registered handler.
func (t *Transport) Drop(err error) {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return
	}
	t.connected = false
	fn := t.onEvent
	t.mu.Unlock()

	if fn == nil {
		return
	}
	ev := backend.Event{Type: backend.EventClosed}
	if err != nil {
		ev = backend.Event{Type: backend.EventError, Err: err}
	}
	fn(ev)
}

// ListTools returns tools sorted by name.
func (t *Transport) ListTools(ctx context.Context) ([]model.Tool, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.connected {
		return nil, backend.ErrNotConnected
	}

	out := make([]model.Tool, 0, len(t.handlers))
	for _, def := range t.handlers {
		schema := def.InputSchema
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		out = append(out, model.Tool{
			Tool: mcp.Tool{
				Name:        def.Name,
				Description: def.Description,
				InputSchema: schema,
				Annotations: def.Annotations,
			},
			Namespace: t.name,
			Tags:      model.NormalizeTags(def.Tags),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Call invokes a tool handler. Handler errors are reported as
// backend.ErrToolFailed unless they signal a lost connection.
func (t *Transport) Call(ctx context.Context, tool string, args map[string]any) (any, error) {
	t.mu.RLock()
	connected := t.connected
	def, ok := t.handlers[tool]
	t.mu.RUnlock()

	if !connected {
		return nil, backend.ErrNotConnected
	}
	if !ok || def.Handler == nil {
		return nil, backend.ErrToolNotFound
	}
	v, err := def.Handler(ctx, args)
	if err != nil && !backend.IsConnectionLoss(err) {
		return nil, fmt.Errorf("%w: %w", backend.ErrToolFailed, err)
	}
	return v, err
}

// Close disconnects the transport. No event is delivered.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = false
	return nil
}

var _ backend.Transport = (*Transport)(nil)
var _ backend.EventSource = (*Transport)(nil)

package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonwraymond/toolfoundation/model"
	"github.com/jonwraymond/toolrelay/backend"
	"github.com/jonwraymond/toolrelay/pending"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Kind is the transport kind for bus-delivered servers.
const Kind = "bus"

// DefaultTimeout bounds calls whose context carries no deadline.
const DefaultTimeout = 15 * time.Second

// Config configures a bus transport.
type Config struct {
	Name          string
	Bus           Bus
	RequestTopic  string
	ResponseTopic string

	// Pending correlates responses. Transports sharing a response topic
	// must share a table. Nil creates a private one.
	Pending *pending.Table

	// Timeout applies when the call context has no deadline.
	Timeout time.Duration

	Logger *slog.Logger
}

// Transport implements backend.Transport over a Bus.
type Transport struct {
	cfg    Config
	table  *pending.Table
	logger *slog.Logger

	mu   sync.Mutex
	stop func()
}

// New creates a bus transport.
func New(cfg Config) *Transport {
	table := cfg.Pending
	if table == nil {
		table = pending.NewTable()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Transport{cfg: cfg, table: table, logger: logger.With("server", cfg.Name)}
}

// Factory returns a backend.Factory building bus transports on b that
// correlate through table.
func Factory(b Bus, table *pending.Table, logger *slog.Logger) backend.Factory {
	return func(d backend.Descriptor) (backend.Transport, error) {
		if b == nil {
			return nil, errors.New("bus: no bus configured")
		}
		return New(Config{
			Name:          d.Name,
			Bus:           b,
			RequestTopic:  d.RequestTopic,
			ResponseTopic: d.ResponseTopic,
			Pending:       table,
			Logger:        logger,
		}), nil
	}
}

// Kind returns the transport kind.
func (t *Transport) Kind() string { return Kind }

// Name returns the server name.
func (t *Transport) Name() string { return t.cfg.Name }

// Connect verifies the request topic is reachable and starts listening on
// the response topic.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop != nil {
		return nil
	}

	if err := t.cfg.Bus.Ping(ctx, t.cfg.RequestTopic); err != nil {
		return fmt.Errorf("bus: ping %s: %w", t.cfg.RequestTopic, err)
	}
	stop, err := t.cfg.Bus.Subscribe(ctx, t.cfg.ResponseTopic, t.deliver)
	if err != nil {
		return fmt.Errorf("bus: subscribe %s: %w", t.cfg.ResponseTopic, err)
	}
	t.stop = stop
	return nil
}

func (t *Transport) deliver(payload []byte) {
	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		t.logger.Warn("dropping undecodable response", "err", err)
		return
	}
	if resp.RequestID == "" {
		t.logger.Warn("dropping response without request id")
		return
	}
	if !t.table.Resolve(resp.RequestID, resp) {
		t.logger.Debug("dropping unmatched response", "request_id", resp.RequestID)
	}
}

func (t *Transport) connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stop != nil
}

// Call publishes a request and waits for the correlated response.
func (t *Transport) Call(ctx context.Context, tool string, args map[string]any) (any, error) {
	resp, err := t.roundTrip(ctx, tool, args)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = "remote tool failed"
		}
		return nil, fmt.Errorf("%w: %s", backend.ErrToolFailed, msg)
	}
	return resp.Result, nil
}

// ListTools asks the server for its tool list.
func (t *Transport) ListTools(ctx context.Context) ([]model.Tool, error) {
	resp, err := t.roundTrip(ctx, ListToolsName, nil)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("bus: list tools: %s", resp.Error)
	}

	raw, err := json.Marshal(resp.Result)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", backend.ErrMalformed, err)
	}
	var infos []ToolInfo
	if err := json.Unmarshal(raw, &infos); err != nil {
		return nil, fmt.Errorf("%w: tools/list result: %v", backend.ErrMalformed, err)
	}

	out := make([]model.Tool, 0, len(infos))
	for _, info := range infos {
		if info.Name == "" {
			continue
		}
		schema := info.InputSchema
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		out = append(out, model.Tool{
			Tool: mcp.Tool{
				Name:        info.Name,
				Description: info.Description,
				InputSchema: schema,
			},
			Namespace: t.cfg.Name,
		})
	}
	return out, nil
}

func (t *Transport) roundTrip(ctx context.Context, tool string, args map[string]any) (Response, error) {
	if !t.connected() {
		return Response{}, backend.ErrNotConnected
	}

	timeout := t.cfg.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
		if timeout <= 0 {
			return Response{}, backend.ErrTimeout
		}
	}

	id := uuid.NewString()
	call, err := t.table.Register(id, timeout)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", backend.ErrConnectionLost, err)
	}

	caller, _ := backend.CallerFrom(ctx)
	payload, err := json.Marshal(Request{
		RequestID:      id,
		ToolName:       tool,
		Arguments:      args,
		CallerIdentity: caller,
		Timestamp:      time.Now().UTC(),
	})
	if err != nil {
		t.table.Cancel(id)
		return Response{}, fmt.Errorf("bus: encode request: %w", err)
	}

	if err := t.cfg.Bus.Publish(ctx, t.cfg.RequestTopic, payload); err != nil {
		t.table.Cancel(id)
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		return Response{}, fmt.Errorf("%w: publish: %v", backend.ErrConnectionLost, err)
	}

	v, err := call.Await(ctx)
	switch {
	case errors.Is(err, pending.ErrExpired), errors.Is(err, context.DeadlineExceeded):
		return Response{}, fmt.Errorf("%w: no response for %s", backend.ErrTimeout, id)
	case errors.Is(err, pending.ErrClosed):
		return Response{}, fmt.Errorf("%w: %v", backend.ErrConnectionLost, err)
	case err != nil:
		return Response{}, err
	}

	resp, ok := v.(Response)
	if !ok {
		return Response{}, fmt.Errorf("%w: unexpected response type %T", backend.ErrMalformed, v)
	}
	return resp, nil
}

// Close stops listening for responses. Calls still waiting expire at
// their own deadlines.
func (t *Transport) Close() error {
	t.mu.Lock()
	stop := t.stop
	t.stop = nil
	t.mu.Unlock()

	if stop != nil {
		stop()
	}
	return nil
}

var _ backend.Transport = (*Transport)(nil)

// Package stdio provides a transport that launches a backend tool server as
// a subprocess and speaks MCP to it over stdin/stdout.
//
// Connect spawns the process and performs the MCP initialize handshake.
// When the session ends for any reason other than Close, the transport
// delivers an Event to its owner so the supervisor can decide whether to
// reconnect or disable the server.
package stdio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"

	"github.com/jonwraymond/toolfoundation/model"
	"github.com/jonwraymond/toolrelay/backend"
	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Kind is the transport kind for subprocess servers.
const Kind = "stdio"

// Config configures a subprocess transport.
type Config struct {
	// Name is the server name.
	Name string

	// Command, Args and Dir describe the process to launch.
	Command string
	Args    []string
	Dir     string

	// Env overrides are applied on top of the parent environment.
	Env map[string]string

	// ClientName and ClientVersion identify the relay in the handshake.
	ClientName    string
	ClientVersion string

	// Stderr receives the subprocess's standard error. Nil discards it.
	Stderr io.Writer

	// Logger receives lifecycle logs. Nil discards them.
	Logger *slog.Logger
}

// Transport implements backend.Transport over an MCP stdio session.
type Transport struct {
	cfg    Config
	logger *slog.Logger

	connectMu sync.Mutex

	mu      sync.Mutex
	session *mcp.ClientSession
	onEvent func(backend.Event)
}

// New creates a subprocess transport. The process is not started until
// Connect.
func New(cfg Config) *Transport {
	if cfg.ClientName == "" {
		cfg.ClientName = "toolrelay"
	}
	if cfg.ClientVersion == "" {
		cfg.ClientVersion = "v0.1.0"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Transport{cfg: cfg, logger: logger.With("server", cfg.Name)}
}

// Factory returns a backend.Factory building subprocess transports that
// log to logger.
func Factory(logger *slog.Logger) backend.Factory {
	return func(d backend.Descriptor) (backend.Transport, error) {
		if d.Command == "" {
			return nil, fmt.Errorf("stdio: command is required")
		}
		return New(Config{
			Name:    d.Name,
			Command: d.Command,
			Args:    d.Args,
			Dir:     d.Dir,
			Env:     d.Env,
			Logger:  logger,
		}), nil
	}
}

// Kind returns the transport kind.
func (t *Transport) Kind() string { return Kind }

// Name returns the server name.
func (t *Transport) Name() string { return t.cfg.Name }

// SetEventHandler implements backend.EventSource.
func (t *Transport) SetEventHandler(fn func(backend.Event)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEvent = fn
}

// Connect launches the subprocess and completes the handshake. It is a
// no-op while a session is live.
func (t *Transport) Connect(ctx context.Context) error {
	t.connectMu.Lock()
	defer t.connectMu.Unlock()

	if t.current() != nil {
		return nil
	}

	// The process must outlive ctx, so it is not bound to it.
	cmd := exec.Command(t.cfg.Command, t.cfg.Args...)
	cmd.Dir = t.cfg.Dir
	cmd.Env = mergeEnv(os.Environ(), t.cfg.Env)
	cmd.Stderr = t.cfg.Stderr

	client := mcp.NewClient(&mcp.Implementation{
		Name:    t.cfg.ClientName,
		Version: t.cfg.ClientVersion,
	}, nil)

	session, err := client.Connect(ctx, &mcp.CommandTransport{Command: cmd}, nil)
	if err != nil {
		return fmt.Errorf("stdio: connect %s: %w", t.cfg.Name, err)
	}

	t.mu.Lock()
	t.session = session
	t.mu.Unlock()

	t.logger.Debug("subprocess session established", "command", t.cfg.Command)
	go t.watch(session)
	return nil
}

func (t *Transport) watch(session *mcp.ClientSession) {
	err := session.Wait()

	t.mu.Lock()
	if t.session != session {
		// Closed by us or already replaced.
		t.mu.Unlock()
		return
	}
	t.session = nil
	fn := t.onEvent
	t.mu.Unlock()

	_ = session.Close()

	ev := backend.Event{Type: backend.EventClosed}
	if err != nil {
		ev = backend.Event{Type: backend.EventError, Err: err}
	}
	t.logger.Debug("subprocess session ended", "event", ev.Type.String(), "err", err)
	if fn != nil {
		fn(ev)
	}
}

func (t *Transport) current() *mcp.ClientSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session
}

// Call invokes a tool on the subprocess.
func (t *Transport) Call(ctx context.Context, tool string, args map[string]any) (any, error) {
	session := t.current()
	if session == nil {
		return nil, backend.ErrNotConnected
	}

	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: tool, Arguments: args})
	if err != nil {
		return nil, classify(ctx, err)
	}
	return decodeResult(res)
}

// ListTools lists every tool the subprocess reports, following pagination.
func (t *Transport) ListTools(ctx context.Context) ([]model.Tool, error) {
	session := t.current()
	if session == nil {
		return nil, backend.ErrNotConnected
	}

	var out []model.Tool
	params := &mcp.ListToolsParams{}
	for {
		res, err := session.ListTools(ctx, params)
		if err != nil {
			return nil, classify(ctx, err)
		}
		for _, tool := range res.Tools {
			if tool == nil {
				continue
			}
			out = append(out, model.Tool{Tool: *tool, Namespace: t.cfg.Name})
		}
		if res.NextCursor == "" {
			return out, nil
		}
		params = &mcp.ListToolsParams{Cursor: res.NextCursor}
	}
}

// Close terminates the session and its subprocess. Safe to call repeatedly.
func (t *Transport) Close() error {
	t.mu.Lock()
	session := t.session
	t.session = nil
	t.mu.Unlock()

	if session == nil {
		return nil
	}
	return session.Close()
}

func classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr == context.DeadlineExceeded {
		return fmt.Errorf("%w: %v", backend.ErrTimeout, err)
	} else if ctxErr != nil {
		return ctxErr
	}
	var rpcErr *jsonrpc.Error
	if errors.As(err, &rpcErr) {
		return classifyReply(rpcErr)
	}
	if backend.IsConnectionLoss(err) {
		return fmt.Errorf("%w: %v", backend.ErrConnectionLost, err)
	}
	return err
}

// classifyReply maps a JSON-RPC error reply. A reply means the server is
// alive and decoding requests, so only framing errors count as malformed.
func classifyReply(rpcErr *jsonrpc.Error) error {
	switch rpcErr.Code {
	case jsonrpc.CodeMethodNotFound:
		return fmt.Errorf("%w: %v", backend.ErrToolNotFound, rpcErr)
	case jsonrpc.CodeInvalidParams:
		// The go-sdk server reports an unregistered tool as invalid params.
		if strings.HasPrefix(rpcErr.Message, "unknown tool") {
			return fmt.Errorf("%w: %v", backend.ErrToolNotFound, rpcErr)
		}
		return fmt.Errorf("%w: %v", backend.ErrInvalidArguments, rpcErr)
	case jsonrpc.CodeParseError, jsonrpc.CodeInvalidRequest:
		return fmt.Errorf("%w: %v", backend.ErrMalformed, rpcErr)
	default:
		return fmt.Errorf("%w: %v", backend.ErrToolFailed, rpcErr)
	}
}

// mergeEnv applies overrides on top of base, replacing existing keys.
func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	out := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, ok := overrides[key]; ok {
			continue
		}
		out = append(out, kv)
	}
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+overrides[k])
	}
	return out
}

var _ backend.Transport = (*Transport)(nil)
var _ backend.EventSource = (*Transport)(nil)

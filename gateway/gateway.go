package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/jonwraymond/tooldiscovery/index"
	"github.com/jonwraymond/tooldiscovery/tooldoc"
	"github.com/jonwraymond/toolfoundation/model"
	"github.com/jonwraymond/toolrelay/backend"
	"github.com/jonwraymond/toolrelay/backend/bus"
	"github.com/jonwraymond/toolrelay/backend/local"
	"github.com/jonwraymond/toolrelay/backend/stdio"
	"github.com/jonwraymond/toolrelay/enrich"
	"github.com/jonwraymond/toolrelay/pending"
	"github.com/jonwraymond/toolrelay/router"
	"github.com/jonwraymond/toolrelay/supervisor"
	"github.com/jonwraymond/toolrelay/toolerr"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrUnknownServer is returned when a server name is not registered.
	ErrUnknownServer = errors.New("gateway: unknown server")

	// ErrClosed is returned by a gateway after Close.
	ErrClosed = errors.New("gateway: closed")

	errTooManyInFlight = errors.New("too many calls in flight")
)

// DefaultListConcurrency bounds parallel ListTools calls in ListAllTools.
const DefaultListConcurrency = 4

// Options configures a Gateway.
type Options struct {
	// Supervisor tunes every server's supervisor. Start from
	// supervisor.DefaultOptions; Pending and Logger are filled in by the
	// gateway when unset.
	Supervisor supervisor.Options

	// Enricher scopes arguments. Nil uses enrich.Default.
	Enricher *enrich.Enricher

	// Transports builds transports for RegisterServer. Nil registers the
	// local, stdio and bus kinds; the bus kind uses Bus.
	Transports *backend.Registry

	// Bus carries requests for servers with the bus transport.
	Bus bus.Bus

	RateLimit RateLimit

	// ListConcurrency bounds parallel ListTools calls. Zero uses
	// DefaultListConcurrency.
	ListConcurrency int

	Logger *slog.Logger
}

// ServerStatus is the health snapshot of one server.
type ServerStatus struct {
	supervisor.Status

	// Tools is the number of exact tool names the server owns.
	Tools int `json:"tools"`

	Prefixes []string `json:"prefixes,omitempty"`
}

type server struct {
	desc  backend.Descriptor
	sup   *supervisor.Supervisor
	tools []model.Tool
}

// Gateway routes tool calls to supervised backend servers.
type Gateway struct {
	opts       Options
	logger     *slog.Logger
	router     *router.Router
	enricher   *enrich.Enricher
	transports *backend.Registry
	pending    *pending.Table
	limiter    *limiter
	catalog    *catalog

	mu      sync.RWMutex
	servers map[string]*server
	order   []string
	closed  bool
}

// New creates a gateway with no servers.
func New(opts Options) *Gateway {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.ListConcurrency <= 0 {
		opts.ListConcurrency = DefaultListConcurrency
	}

	table := opts.Supervisor.Pending
	if table == nil {
		table = pending.NewTable()
		opts.Supervisor.Pending = table
	}
	if opts.Supervisor.Logger == nil {
		opts.Supervisor.Logger = logger
	}

	enricher := opts.Enricher
	if enricher == nil {
		enricher = enrich.Default()
	}

	transports := opts.Transports
	if transports == nil {
		transports = backend.NewRegistry()
		transports.RegisterFactory(local.Kind, local.Factory)
		transports.RegisterFactory(stdio.Kind, stdio.Factory(logger))
		transports.RegisterFactory(bus.Kind, bus.Factory(opts.Bus, table, logger))
	}

	return &Gateway{
		opts:       opts,
		logger:     logger,
		router:     router.New(),
		enricher:   enricher,
		transports: transports,
		pending:    table,
		limiter:    newLimiter(opts.RateLimit),
		catalog:    newCatalog(),
		servers:    make(map[string]*server),
	}
}

// RegisterServer builds a transport for d and registers it. See
// RegisterTransport for the semantics.
func (g *Gateway) RegisterServer(ctx context.Context, d backend.Descriptor) error {
	t, err := g.transports.Build(d)
	if err != nil {
		return fmt.Errorf("gateway: register %s: %w", d.Name, err)
	}
	return g.RegisterTransport(ctx, d, t)
}

// RegisterTransport registers t under d.Name, replacing any server of the
// same name, then lists its tools and publishes them. A replacement counts
// as a new registration.
//
// If listing fails the server stays registered with no exact tool names
// (its prefix rule still routes) and the wrapped listing error is
// returned. RefreshTools publishes the tools later.
func (g *Gateway) RegisterTransport(ctx context.Context, d backend.Descriptor, t backend.Transport) error {
	if d.Name == "" {
		return errors.New("gateway: server name is required")
	}
	if t == nil {
		return fmt.Errorf("gateway: register %s: nil transport", d.Name)
	}

	srv := &server{desc: d.Clone(), sup: supervisor.New(t, g.opts.Supervisor)}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		_ = srv.sup.Close()
		return ErrClosed
	}
	old, replaced := g.servers[d.Name]
	g.servers[d.Name] = srv
	if replaced {
		g.router.RemoveServer(d.Name)
		g.order = slices.DeleteFunc(g.order, func(n string) bool { return n == d.Name })
		g.rebuildCatalogLocked()
	}
	g.order = append(g.order, d.Name)
	g.router.AddServer(d.Name)
	if len(d.Prefixes) > 0 {
		g.router.AddRule(d.Name, d.Prefixes...)
	}
	g.mu.Unlock()

	if replaced {
		_ = old.sup.Close()
		g.logger.Info("server replaced", "server", d.Name)
	}
	g.logger.Info("server registered", "server", d.Name, "transport", d.Transport)

	tools, err := srv.sup.ListTools(ctx)
	if err != nil {
		g.logger.Warn("list tools failed at registration", "server", d.Name, "err", err)
		return fmt.Errorf("gateway: list tools for %s: %w", d.Name, err)
	}
	g.publish(map[string][]model.Tool{d.Name: tools})
	return nil
}

// UnregisterServer closes the server's supervisor and removes its routes.
func (g *Gateway) UnregisterServer(name string) error {
	g.mu.Lock()
	srv, ok := g.servers[name]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownServer, name)
	}
	delete(g.servers, name)
	g.order = slices.DeleteFunc(g.order, func(n string) bool { return n == name })
	g.router.RemoveServer(name)
	g.rebuildCatalogLocked()
	g.mu.Unlock()

	g.logger.Info("server unregistered", "server", name)
	return srv.sup.Close()
}

// RefreshTools re-lists one server's tools and republishes them.
func (g *Gateway) RefreshTools(ctx context.Context, name string) ([]model.Tool, error) {
	srv, err := g.lookup(name)
	if err != nil {
		return nil, err
	}
	tools, err := srv.sup.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("gateway: list tools for %s: %w", name, err)
	}
	g.publish(map[string][]model.Tool{name: tools})
	return tools, nil
}

// ExecuteTool resolves, authorizes, enriches and dispatches one tool call.
// The result is the backend's raw value.
func (g *Gateway) ExecuteTool(ctx context.Context, name string, args map[string]any, cc enrich.CallContext) (any, error) {
	if name == "" {
		return nil, toolerr.New(toolerr.KindInvalidRequest, "", "", errors.New("empty tool name"))
	}

	route, err := g.router.Resolve(name)
	if err != nil {
		return nil, err
	}

	scope, err := enrich.Authorize(cc)
	if err != nil {
		return nil, annotate(err, route.Server, name)
	}

	tenant := scope.TenantKey()
	if !g.limiter.allow(tenant, toolFamily(route.Tool)) {
		g.logger.Warn("rate limited", "server", route.Server, "tool", name, "tenant", tenant)
		return nil, toolerr.New(toolerr.KindRateLimited, route.Server, name, nil)
	}
	if !g.limiter.acquire(tenant) {
		g.logger.Warn("too many calls in flight", "server", route.Server, "tool", name, "tenant", tenant)
		return nil, toolerr.New(toolerr.KindRateLimited, route.Server, name, errTooManyInFlight)
	}
	defer g.limiter.release(tenant)

	scoped, err := g.enricher.Enrich(route.Tool, args, scope)
	if err != nil {
		return nil, annotate(err, route.Server, name)
	}

	srv, err := g.lookup(route.Server)
	if err != nil {
		// Unregistered between resolve and dispatch.
		return nil, toolerr.New(toolerr.KindUnknownTool, "", name, err)
	}

	caller := backend.Caller{UserID: scope.UserID}
	if scope.Organization != nil {
		caller.OrganizationID = scope.Organization.OrganizationID
	}

	g.logger.Debug("dispatch", "server", route.Server, "tool", route.Tool, "match", route.Match)
	return srv.sup.Execute(backend.WithCaller(ctx, caller), route.Tool, scoped)
}

// ListAllTools lists every server's tools in parallel and returns them in
// registration order. A server that fails to list is logged and omitted;
// the others are still returned and republished.
func (g *Gateway) ListAllTools(ctx context.Context) []model.Tool {
	names, srvs := g.snapshot()

	results := make([][]model.Tool, len(srvs))
	ok := make([]bool, len(srvs))

	var eg errgroup.Group
	eg.SetLimit(g.opts.ListConcurrency)
	for i, srv := range srvs {
		eg.Go(func() error {
			tools, err := srv.sup.ListTools(ctx)
			if err != nil {
				g.logger.Warn("list tools failed", "server", names[i], "err", err)
				return nil
			}
			results[i] = tools
			ok[i] = true
			return nil
		})
	}
	_ = eg.Wait()

	var all []model.Tool
	fresh := make(map[string][]model.Tool, len(srvs))
	for i := range srvs {
		if !ok[i] {
			continue
		}
		fresh[names[i]] = results[i]
		all = append(all, results[i]...)
	}
	g.publish(fresh)
	return all
}

// GetHealthStatus returns a snapshot of every server's state. It never
// fails and never touches a transport.
func (g *Gateway) GetHealthStatus() map[string]ServerStatus {
	names, srvs := g.snapshot()
	out := make(map[string]ServerStatus, len(srvs))
	for i, srv := range srvs {
		out[names[i]] = ServerStatus{
			Status:   srv.sup.Status(),
			Tools:    len(g.router.Tools(names[i])),
			Prefixes: slices.Clone(srv.desc.Prefixes),
		}
	}
	return out
}

// SearchTools searches the published tools by name, description and tags.
func (g *Gateway) SearchTools(query string, limit int) ([]index.Summary, error) {
	return g.catalog.search(query, limit)
}

// DescribeTool returns documentation for a published tool. id is
// "<server>:<tool>".
func (g *Gateway) DescribeTool(id string, level tooldoc.DetailLevel) (tooldoc.ToolDoc, error) {
	return g.catalog.describe(id, level)
}

// Servers returns the registered server names in registration order.
func (g *Gateway) Servers() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Clone(g.order)
}

// Route reports which server a tool name resolves to without calling it.
func (g *Gateway) Route(name string) (router.Route, error) {
	return g.router.Resolve(name)
}

// DisconnectAll releases every server's transport. Servers stay registered
// and reconnect on their next call.
func (g *Gateway) DisconnectAll() {
	_, srvs := g.snapshot()
	for _, srv := range srvs {
		srv.sup.Disconnect()
	}
	g.logger.Info("all servers disconnected", "count", len(srvs))
}

// Close closes every supervisor and fails outstanding calls. The gateway
// cannot be used afterwards.
func (g *Gateway) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	srvs := make([]*server, 0, len(g.order))
	for _, name := range g.order {
		srvs = append(srvs, g.servers[name])
	}
	g.mu.Unlock()

	var errs []error
	for _, srv := range srvs {
		if err := srv.sup.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", srv.desc.Name, err))
		}
	}
	g.pending.Close()
	return errors.Join(errs...)
}

func (g *Gateway) lookup(name string) (*server, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	srv, ok := g.servers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownServer, name)
	}
	return srv, nil
}

func (g *Gateway) snapshot() ([]string, []*server) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := slices.Clone(g.order)
	srvs := make([]*server, len(names))
	for i, n := range names {
		srvs[i] = g.servers[n]
	}
	return names, srvs
}

// publish installs freshly listed tools. The router gives a name several
// servers report to the last registered one, whatever the publish order.
func (g *Gateway) publish(fresh map[string][]model.Tool) {
	if len(fresh) == 0 {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for _, name := range g.order {
		tools, ok := fresh[name]
		if !ok {
			continue
		}
		srv := g.servers[name]
		srv.tools = tools

		names := make([]string, 0, len(tools))
		for _, t := range tools {
			names = append(names, t.Name)
		}
		for _, c := range g.router.SetTools(name, names) {
			g.logger.Warn("tool name collision",
				"tool", c.Tool, "previous", c.Previous, "server", c.Server)
		}
		g.logger.Info("tools published", "server", name, "count", len(names))
	}
	g.rebuildCatalogLocked()
}

func (g *Gateway) rebuildCatalogLocked() {
	byServer := make(map[string][]model.Tool, len(g.servers))
	for name, srv := range g.servers {
		byServer[name] = srv.tools
	}
	if err := g.catalog.rebuild(byServer); err != nil {
		g.logger.Warn("search catalog incomplete", "err", err)
	}
}

// annotate fills in the server and tool of a classified error that was
// raised before either was known.
func annotate(err error, server, tool string) error {
	var te *toolerr.Error
	if !errors.As(err, &te) {
		return err
	}
	out := *te
	if out.Server == "" {
		out.Server = server
	}
	if out.Tool == "" {
		out.Tool = tool
	}
	return &out
}

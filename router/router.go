// Package router maps tool names to the backend server that owns them.
//
// Resolution order for a tool name T:
//
//  1. exact table built from server-reported tool lists
//  2. ordered prefix rules: T equals a pattern or starts with it
//  3. server-qualified names, "server.tool" or "server:tool"
//
// Readers never lock. Writers build a new table and publish it with a
// single atomic swap, so a resolution never observes a partial update.
// Prefix rules are evaluated on every call; routes are never cached.
package router

import (
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jonwraymond/toolrelay/toolerr"
)

// Match describes how a route was found.
type Match string

// Match kinds.
const (
	MatchExact     Match = "exact"
	MatchPrefix    Match = "prefix"
	MatchQualified Match = "qualified"
)

// Route is the result of resolving a tool name.
type Route struct {
	// Server owns the tool.
	Server string

	// Tool is the name to send to the server. It differs from the
	// requested name only for qualified matches.
	Tool string

	Match Match
}

// Rule routes every tool name starting with one of Prefixes to Server.
type Rule struct {
	Server   string
	Prefixes []string
}

// Collision reports a tool name that moved from one server to another.
type Collision struct {
	Tool     string
	Previous string
	Server   string
}

type table struct {
	exact    map[string]string   // tool -> owning server
	reported map[string][]string // server -> latest reported tools
	order    []string            // servers in registration order
	rules    []Rule
	servers  map[string]struct{}
}

func (t *table) clone() *table {
	c := &table{
		exact:    maps.Clone(t.exact),
		reported: make(map[string][]string, len(t.reported)),
		order:    slices.Clone(t.order),
		rules:    make([]Rule, len(t.rules)),
		servers:  maps.Clone(t.servers),
	}
	for s, tools := range t.reported {
		c.reported[s] = slices.Clone(tools)
	}
	for i, r := range t.rules {
		c.rules[i] = Rule{Server: r.Server, Prefixes: slices.Clone(r.Prefixes)}
	}
	return c
}

func (t *table) addServer(name string) {
	if _, ok := t.servers[name]; !ok {
		t.servers[name] = struct{}{}
		t.order = append(t.order, name)
	}
}

// rebuild recomputes the exact table from every server's latest list. A
// name reported by several servers belongs to the last registered one.
func (t *table) rebuild() {
	exact := make(map[string]string, len(t.exact))
	for _, server := range t.order {
		for _, name := range t.reported[server] {
			exact[name] = server
		}
	}
	t.exact = exact
}

func (t *table) reports(server, tool string) bool {
	return slices.Contains(t.reported[server], tool)
}

// Router resolves tool names to servers.
type Router struct {
	writeMu sync.Mutex
	current atomic.Pointer[table]
}

// New creates an empty router.
func New() *Router {
	r := &Router{}
	r.current.Store(&table{
		exact:    map[string]string{},
		reported: map[string][]string{},
		servers:  map[string]struct{}{},
	})
	return r
}

func (r *Router) update(fn func(t *table)) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	next := r.current.Load().clone()
	fn(next)
	r.current.Store(next)
}

// AddServer makes name known for qualified resolution. Registration order
// decides which server owns a tool name several servers report.
func (r *Router) AddServer(name string) {
	r.update(func(t *table) { t.addServer(name) })
}

// SetTools replaces the tool list reported by server. When several servers
// report a name, the last registered one owns it; if that server stops
// reporting it, ownership falls back to the next most recent reporter.
// Every name that changes hands between two servers still reporting it is
// returned as a collision.
func (r *Router) SetTools(server string, tools []string) []Collision {
	var collisions []Collision
	r.update(func(t *table) {
		t.addServer(server)

		list := make([]string, 0, len(tools))
		for _, name := range tools {
			if name != "" && !slices.Contains(list, name) {
				list = append(list, name)
			}
		}

		before := t.exact
		t.reported[server] = list
		t.rebuild()

		for _, name := range list {
			prev, owned := before[name]
			next := t.exact[name]
			if owned && prev != next && t.reports(prev, name) {
				collisions = append(collisions, Collision{Tool: name, Previous: prev, Server: next})
			}
		}
	})
	return collisions
}

// AddRule sets server's prefix rule. A server has at most one rule; setting
// it again replaces the prefixes but keeps the rule's position.
func (r *Router) AddRule(server string, prefixes ...string) {
	clean := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		if p != "" {
			clean = append(clean, p)
		}
	}
	r.update(func(t *table) {
		t.addServer(server)
		for i := range t.rules {
			if t.rules[i].Server == server {
				t.rules[i].Prefixes = clean
				return
			}
		}
		t.rules = append(t.rules, Rule{Server: server, Prefixes: clean})
	})
}

// RemoveServer drops the server's tools, prefix rule and qualified name.
// Names it shared with other servers fall back to them.
func (r *Router) RemoveServer(server string) {
	r.update(func(t *table) {
		delete(t.reported, server)
		delete(t.servers, server)
		t.order = slices.DeleteFunc(t.order, func(s string) bool { return s == server })
		t.rules = slices.DeleteFunc(t.rules, func(rule Rule) bool { return rule.Server == server })
		t.rebuild()
	})
}

// Resolve finds the server owning tool.
func (r *Router) Resolve(tool string) (Route, error) {
	t := r.current.Load()

	if server, ok := t.exact[tool]; ok {
		return Route{Server: server, Tool: tool, Match: MatchExact}, nil
	}

	for _, rule := range t.rules {
		for _, p := range rule.Prefixes {
			if strings.HasPrefix(tool, p) {
				return Route{Server: rule.Server, Tool: tool, Match: MatchPrefix}, nil
			}
		}
	}

	if i := strings.IndexAny(tool, ".:"); i > 0 && i < len(tool)-1 {
		if _, ok := t.servers[tool[:i]]; ok {
			return Route{Server: tool[:i], Tool: tool[i+1:], Match: MatchQualified}, nil
		}
	}

	return Route{}, toolerr.New(toolerr.KindUnknownTool, "", tool, nil)
}

// Tools returns the exact tool names owned by server, sorted.
func (r *Router) Tools(server string) []string {
	t := r.current.Load()
	var out []string
	for _, name := range t.reported[server] {
		if t.exact[name] == server {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

// Rules returns a copy of the prefix rules in evaluation order.
func (r *Router) Rules() []Rule {
	t := r.current.Load()
	out := make([]Rule, len(t.rules))
	for i, rule := range t.rules {
		out[i] = Rule{Server: rule.Server, Prefixes: slices.Clone(rule.Prefixes)}
	}
	return out
}

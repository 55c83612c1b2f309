package enrich

import (
	"fmt"
	"strings"
	"sync"
)

// ContextKey is the reserved argument key carrying the caller identity.
const ContextKey = "_context"

// Matcher selects the tool names a rule applies to.
type Matcher func(tool string) bool

// Exact matches the listed tool names.
func Exact(names ...string) Matcher {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return func(tool string) bool {
		_, ok := set[tool]
		return ok
	}
}

// Prefix matches tool names starting with any of prefixes.
func Prefix(prefixes ...string) Matcher {
	return func(tool string) bool {
		for _, p := range prefixes {
			if strings.HasPrefix(tool, p) {
				return true
			}
		}
		return false
	}
}

// RewriteFunc rewrites a private copy of the arguments. It returns false
// when it does not apply to this scope, letting later rules or the default
// run instead.
type RewriteFunc func(tool string, args map[string]any, scope Scope) (map[string]any, bool, error)

// Rule pairs a matcher with a rewrite.
type Rule struct {
	Name    string
	Match   Matcher
	Rewrite RewriteFunc
}

// Enricher applies registered rules to tool arguments.
type Enricher struct {
	mu    sync.RWMutex
	rules []Rule
}

// New creates an enricher with no family rules; every tool gets the
// default context object.
func New() *Enricher {
	return &Enricher{}
}

// Register appends a rule. Rules are evaluated in registration order.
func (e *Enricher) Register(rule Rule) error {
	if rule.Name == "" || rule.Match == nil || rule.Rewrite == nil {
		return fmt.Errorf("enrich: rule requires a name, matcher and rewrite")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range e.rules {
		if r.Name == rule.Name {
			return fmt.Errorf("enrich: rule %q already registered", rule.Name)
		}
	}
	e.rules = append(e.rules, rule)
	return nil
}

// Rules returns the registered rule names in evaluation order.
func (e *Enricher) Rules() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, len(e.rules))
	for i, r := range e.rules {
		out[i] = r.Name
	}
	return out
}

// Enrich returns scoped arguments for tool. The input map is never
// modified, and the result depends only on the inputs.
func (e *Enricher) Enrich(tool string, args map[string]any, scope Scope) (map[string]any, error) {
	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	for _, r := range rules {
		if !r.Match(tool) {
			continue
		}
		out, ok, err := r.Rewrite(tool, cloneMap(args), scope)
		if err != nil {
			return nil, err
		}
		if ok {
			return out, nil
		}
	}
	return AttachContext(args, scope), nil
}

// AttachContext returns a copy of args with the caller identity under
// ContextKey. Organization fields are nil in the personal context. A
// caller-supplied ContextKey is replaced.
func AttachContext(args map[string]any, scope Scope) map[string]any {
	out := cloneMap(args)
	if out == nil {
		out = make(map[string]any, 1)
	}
	ctx := map[string]any{
		"userId":            scope.UserID,
		"personalNamespace": scope.PersonalNamespace,
		"organizationId":    nil,
		"organizationSlug":  nil,
	}
	if scope.Organization != nil {
		ctx["organizationId"] = scope.Organization.OrganizationID
		ctx["organizationSlug"] = scope.Organization.Slug
	}
	out[ContextKey] = ctx
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

package enrich

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jonwraymond/toolrelay/toolerr"
)

// Default returns an enricher with the built-in tool families registered:
// key-value storage (kv_), object storage (artifacts_) and events
// (events_).
func Default() *Enricher {
	e := New()
	for _, r := range []Rule{KVRule(), ArtifactsRule(), EventsRule(nil)} {
		_ = e.Register(r)
	}
	return e
}

// KVRule namespaces the "key" argument of kv_ tools as
// "<orgId>:<userId>:<key>" in an organization context.
func KVRule() Rule {
	return Rule{
		Name:  "kv",
		Match: Prefix("kv_"),
		Rewrite: func(tool string, args map[string]any, scope Scope) (map[string]any, bool, error) {
			if scope.Organization == nil {
				return nil, false, nil
			}
			ns := scope.Organization.OrganizationID + ":" + scope.UserID + ":"
			for _, field := range []string{"key", "prefix"} {
				if err := prefixString(tool, args, field, ns); err != nil {
					return nil, false, err
				}
			}
			return args, true, nil
		},
	}
}

// ArtifactsRule prefixes the "key" and "prefix" arguments of artifacts_
// tools with "<slug>/" in an organization context.
func ArtifactsRule() Rule {
	return Rule{
		Name:  "artifacts",
		Match: Prefix("artifacts_"),
		Rewrite: func(tool string, args map[string]any, scope Scope) (map[string]any, bool, error) {
			if scope.Organization == nil {
				return nil, false, nil
			}
			ns := scope.Organization.Slug + "/"
			for _, field := range []string{"key", "prefix"} {
				if err := prefixString(tool, args, field, ns); err != nil {
					return nil, false, err
				}
			}
			if args == nil {
				// Listing with no prefix is still confined to the org.
				args = map[string]any{"prefix": ns}
			} else if _, ok := args["prefix"]; !ok {
				if _, hasKey := args["key"]; !hasKey {
					args["prefix"] = ns
				}
			}
			return args, true, nil
		},
	}
}

// EventBusNamer derives the organization-scoped event bus name.
type EventBusNamer func(org Membership) string

// DefaultEventBusName names an organization's bus "<slug>-events".
func DefaultEventBusName(org Membership) string {
	return org.Slug + "-events"
}

// EventsRule substitutes the "eventBusName" argument of events_ tools with
// the organization's bus and injects organizationId and userId into the
// "detail" payload. Detail may be an object or a JSON-encoded object.
func EventsRule(namer EventBusNamer) Rule {
	if namer == nil {
		namer = DefaultEventBusName
	}
	return Rule{
		Name:  "events",
		Match: Prefix("events_"),
		Rewrite: func(tool string, args map[string]any, scope Scope) (map[string]any, bool, error) {
			if scope.Organization == nil {
				return nil, false, nil
			}
			if args == nil {
				args = make(map[string]any)
			}
			args["eventBusName"] = namer(*scope.Organization)

			detail, err := decodeDetail(tool, args["detail"])
			if err != nil {
				return nil, false, err
			}
			detail["organizationId"] = scope.Organization.OrganizationID
			detail["userId"] = scope.UserID

			if _, wasString := args["detail"].(string); wasString {
				data, err := json.Marshal(detail)
				if err != nil {
					return nil, false, invalid(tool, fmt.Errorf("encode detail: %w", err))
				}
				args["detail"] = string(data)
			} else {
				args["detail"] = detail
			}
			return args, true, nil
		},
	}
}

func decodeDetail(tool string, v any) (map[string]any, error) {
	switch d := v.(type) {
	case nil:
		return make(map[string]any), nil
	case map[string]any:
		return d, nil
	case string:
		if strings.TrimSpace(d) == "" {
			return make(map[string]any), nil
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(d), &m); err != nil {
			return nil, invalid(tool, fmt.Errorf("detail is not a JSON object: %w", err))
		}
		if m == nil {
			m = make(map[string]any)
		}
		return m, nil
	default:
		return nil, invalid(tool, fmt.Errorf("detail must be an object, got %T", v))
	}
}

// prefixString prepends ns to args[field] when present. A non-string value
// is rejected rather than passed through unscoped.
func prefixString(tool string, args map[string]any, field, ns string) error {
	v, ok := args[field]
	if !ok {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return invalid(tool, fmt.Errorf("%s must be a string, got %T", field, v))
	}
	args[field] = ns + s
	return nil
}

func invalid(tool string, err error) error {
	return toolerr.New(toolerr.KindInvalidRequest, "", tool, err)
}

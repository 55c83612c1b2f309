// Package enrich authorizes a caller's tenant identity and rewrites tool
// arguments to the caller's scope before dispatch.
//
// Rewrites are strategies registered against a tool-name matcher and
// evaluated in registration order; the first matching rule that applies
// wins. Tools no rule handles get a generic "_context" object describing
// the caller.
package enrich

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jonwraymond/toolrelay/toolerr"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Membership is one organization the caller belongs to.
type Membership struct {
	OrganizationID string `json:"organizationId" yaml:"organization_id"`
	Slug           string `json:"slug" yaml:"slug"`
}

// CallContext is the per-call tenant identity supplied by the caller.
type CallContext struct {
	UserID            string
	PersonalNamespace string
	Organizations     []Membership

	// OrganizationID selects an organization for this call. Empty means
	// the caller's personal context.
	OrganizationID string
}

// Scope is an authorized CallContext.
type Scope struct {
	UserID            string
	PersonalNamespace string

	// Organization is nil in the personal context.
	Organization *Membership
}

// TenantKey identifies the tenant a call is billed to: "org-<id>" or
// "personal-<user>".
func (s Scope) TenantKey() string {
	if s.Organization != nil {
		return "org-" + s.Organization.OrganizationID
	}
	return "personal-" + s.UserID
}

var slugCaser = cases.Lower(language.Und)

// NormalizeSlug lowercases and trims an organization slug.
func NormalizeSlug(slug string) string {
	return slugCaser.String(strings.TrimSpace(slug))
}

// Authorize validates cc and resolves the requested organization. A caller
// who is not a member of the requested organization is denied.
func Authorize(cc CallContext) (Scope, error) {
	if cc.UserID == "" {
		return Scope{}, toolerr.New(toolerr.KindInvalidRequest, "", "", errors.New("call context has no user id"))
	}

	scope := Scope{UserID: cc.UserID, PersonalNamespace: cc.PersonalNamespace}
	if cc.OrganizationID == "" {
		return scope, nil
	}

	for _, m := range cc.Organizations {
		if m.OrganizationID != cc.OrganizationID {
			continue
		}
		org := m
		org.Slug = NormalizeSlug(m.Slug)
		if org.Slug == "" {
			org.Slug = NormalizeSlug(m.OrganizationID)
		}
		scope.Organization = &org
		return scope, nil
	}
	return Scope{}, toolerr.New(toolerr.KindAccessDenied, "", "",
		fmt.Errorf("user %s is not a member of organization %s", cc.UserID, cc.OrganizationID))
}

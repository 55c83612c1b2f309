package backend

import "context"

// Caller is the identity a transport may forward to a remote server.
type Caller struct {
	UserID         string `json:"userId"`
	OrganizationID string `json:"organizationId,omitempty"`
}

type callerKey struct{}

// WithCaller attaches the caller identity to ctx.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the caller identity attached to ctx, if any.
func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}

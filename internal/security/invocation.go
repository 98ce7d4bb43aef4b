package security

import "context"

// Invocation describes the command attempt being authorized, for the audit trail.
type Invocation struct {
	ID        string
	ChannelID string
	Command   string
}

type invocationKey struct{}

// WithInvocation attaches inv to ctx.
func WithInvocation(ctx context.Context, inv Invocation) context.Context {
	return context.WithValue(ctx, invocationKey{}, inv)
}

// InvocationFrom returns the invocation attached to ctx, or the zero value.
func InvocationFrom(ctx context.Context) Invocation {
	inv, _ := ctx.Value(invocationKey{}).(Invocation)
	return inv
}

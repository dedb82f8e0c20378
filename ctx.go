package session

import (
	"context"
)

var coordinatorCtxKey = &contextKey{"coordinator"}

type contextKey struct {
	name string
}

// WithContext sets the Coordinator in the given context
func WithContext(ctx context.Context, c *Coordinator) context.Context {
	return context.WithValue(ctx, coordinatorCtxKey, c)
}

// FromContext finds the Coordinator from the context.
func FromContext(ctx context.Context) (*Coordinator, bool) {
	raw, ok := ctx.Value(coordinatorCtxKey).(*Coordinator)
	return raw, ok && raw != nil
}

// CurrentIdentity returns the signed in identity of the coordinator carried
// by ctx.
func CurrentIdentity(ctx context.Context) (*Identity, bool) {
	c, ok := FromContext(ctx)
	if !ok {
		return nil, false
	}
	state := c.State()
	if !state.IsAuthenticated() {
		return nil, false
	}
	return state.Identity, true
}

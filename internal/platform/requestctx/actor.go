// Package requestctx propagates authenticated actor identity through context.
package requestctx

import "context"

// actorIDContextKey is the context key for the authenticated actor identity.
type actorIDContextKey struct{}

// adminGrantContextKey is the context key for a raw admin grant token.
type adminGrantContextKey struct{}

// WithActorID stores an actor identifier in context.
func WithActorID(ctx context.Context, actorID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorIDContextKey{}, actorID)
}

// ActorIDFromContext returns the actor identifier stored in context.
func ActorIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(actorIDContextKey{}).(string)
	return value
}

// WithAdminGrant stores a raw admin grant token in context.
func WithAdminGrant(ctx context.Context, token string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, adminGrantContextKey{}, token)
}

// AdminGrantFromContext returns the admin grant token stored in context.
func AdminGrantFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(adminGrantContextKey{}).(string)
	return value
}

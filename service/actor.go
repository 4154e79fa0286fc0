package service

import "context"

type actorKey struct{}

// DefaultActor is recorded as processed_by when no actor is attached to the context
const DefaultActor = "system"

// WithActor attaches the identity recorded on audit rows written under ctx
func WithActor(ctx context.Context, actor string) context.Context {
	if actor == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the actor attached to ctx, or DefaultActor
func ActorFrom(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey{}).(string); ok && actor != "" {
		return actor
	}
	return DefaultActor
}

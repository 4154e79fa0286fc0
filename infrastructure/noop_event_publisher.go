package infrastructure

import (
	"context"

	"rewarder/events"
)

// NoopEventPublisher drops every event. Used when NATS is disabled.
type NoopEventPublisher struct{}

// NewNoopEventPublisher creates a new no-op event publisher
func NewNoopEventPublisher() *NoopEventPublisher {
	return &NoopEventPublisher{}
}

func (n *NoopEventPublisher) Publish(ctx context.Context, event events.Event) error {
	return nil
}

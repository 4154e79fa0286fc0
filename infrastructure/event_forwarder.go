package infrastructure

import (
	"context"
	"time"

	"rewarder/events"

	log "github.com/sirupsen/logrus"
)

// EventPublisher sends a committed event to the outside world
type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// publishTimeout bounds a single forward so a stalled broker cannot pile up
// handler goroutines
const publishTimeout = 5 * time.Second

// ForwardEvents subscribes publisher to every event type on bus. Events only
// reach the bus after their transaction commits, so nothing uncommitted is
// forwarded. Publishing is best-effort: failures are logged and dropped.
func ForwardEvents(bus *events.Bus, publisher EventPublisher) {
	for _, eventType := range events.AllEventTypes {
		bus.Subscribe(eventType, func(ctx context.Context, event events.Event) {
			ctx, cancel := context.WithTimeout(ctx, publishTimeout)
			defer cancel()

			if err := publisher.Publish(ctx, event); err != nil {
				log.WithFields(log.Fields{
					"eventType": event.Type(),
					"error":     err,
				}).Warn("Failed to forward event")
			}
		})
	}
}

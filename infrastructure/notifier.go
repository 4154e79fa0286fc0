package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"

	"rewarder/models"

	log "github.com/sirupsen/logrus"
)

// NATSNotifier delivers notifications by publishing them to the notification
// stream, where a delivery service picks them up
type NATSNotifier struct {
	client MessagePublisher
}

func NewNATSNotifier(client MessagePublisher) *NATSNotifier {
	return &NATSNotifier{client: client}
}

// Notify publishes the notification and returns once the stream stored it
func (n *NATSNotifier) Notify(ctx context.Context, notification models.NotificationPayload) error {
	envelope, err := NewEnvelope("notification."+notification.Template, notification)
	if err != nil {
		return err
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal notification envelope: %w", err)
	}

	subject := NotificationSubject(notification.Template)
	if err := n.client.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	log.WithFields(log.Fields{
		"template": notification.Template,
		"userRef":  notification.UserRef,
		"eventId":  envelope.EventID,
	}).Debug("Notification published")
	return nil
}

// LogNotifier writes notifications to the log. Used when NATS is disabled.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Notify(ctx context.Context, notification models.NotificationPayload) error {
	log.WithFields(log.Fields{
		"template":    notification.Template,
		"userRef":     notification.UserRef,
		"externalRef": notification.ExternalRef,
		"data":        notification.Data,
	}).Info("Notification")
	return nil
}

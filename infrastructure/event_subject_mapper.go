package infrastructure

import (
	"fmt"

	"rewarder/events"
)

const (
	// EventStreamName holds every ledger event published by this service
	EventStreamName = "rewarder_events"
	// NotificationStreamName holds user notifications awaiting delivery
	NotificationStreamName = "rewarder_notifications"
	// IntakeStreamName holds settlement and verification requests from upstream systems
	IntakeStreamName = "rewarder_intake"

	NotificationSubjectPrefix = "rewards.notifications"
	IntakeSettlementSubject   = "rewards.intake.settlements"
	IntakeVerificationSubject = "rewards.intake.verifications"
)

// EventSubjectMapper maps ledger events to NATS subjects
type EventSubjectMapper struct{}

// NewEventSubjectMapper creates a new event subject mapper
func NewEventSubjectMapper() *EventSubjectMapper {
	return &EventSubjectMapper{}
}

// MapEventToSubject converts an event to its NATS subject
func (m *EventSubjectMapper) MapEventToSubject(event events.Event) string {
	switch event.Type() {
	case events.EventTypeBudgetTransaction:
		return "rewards.budget.transaction"
	case events.EventTypeBudgetAccountStatus:
		return "rewards.budget.status_changed"
	case events.EventTypePointsEarned:
		return "rewards.points.earned"
	case events.EventTypePointsVerified:
		return "rewards.points.verified"
	case events.EventTypePointsRedeemed:
		return "rewards.points.redeemed"
	case events.EventTypePointsExpired:
		return "rewards.points.expired"
	case events.EventTypeSettlementCompleted:
		return "rewards.settlements.completed"
	case events.EventTypeSettlementCompensated:
		return "rewards.settlements.compensated"
	case events.EventTypeSettlementReversed:
		return "rewards.settlements.reversed"
	case events.EventTypeDueItemFailed:
		return "rewards.dispatcher.item_failed"
	default:
		return fmt.Sprintf("rewards.unknown.%s", event.Type())
	}
}

// GetAllSubjects returns every subject this service publishes events to
func (m *EventSubjectMapper) GetAllSubjects() []string {
	return []string{
		"rewards.budget.transaction",
		"rewards.budget.status_changed",
		"rewards.points.earned",
		"rewards.points.verified",
		"rewards.points.redeemed",
		"rewards.points.expired",
		"rewards.settlements.completed",
		"rewards.settlements.compensated",
		"rewards.settlements.reversed",
		"rewards.dispatcher.item_failed",
	}
}

// NotificationSubject returns the subject a notification template is delivered on
func NotificationSubject(template string) string {
	return NotificationSubjectPrefix + "." + template
}

// EnsureStreams creates the event, notification and intake streams
func EnsureStreams(client *NATSClient, mapper *EventSubjectMapper) error {
	if err := client.EnsureStream(EventStreamName, "Reward ledger events", mapper.GetAllSubjects()); err != nil {
		return err
	}
	if err := client.EnsureStream(NotificationStreamName, "User notifications", []string{NotificationSubjectPrefix + ".>"}); err != nil {
		return err
	}
	return client.EnsureStream(IntakeStreamName, "Settlement and verification intake",
		[]string{IntakeSettlementSubject, IntakeVerificationSubject})
}

package models

import (
	"encoding/json"
	"time"
)

// DueItemStatus represents the dispatch state of a due item
type DueItemStatus string

const (
	DueItemStatusPending DueItemStatus = "pending"
	DueItemStatusSent    DueItemStatus = "sent"
	DueItemStatusFailed  DueItemStatus = "failed"
)

// DueItemKind selects the handler that processes an item
type DueItemKind string

const (
	DueItemKindNotification        DueItemKind = "notification"
	DueItemKindPointsExpiry        DueItemKind = "points_expiry"
	DueItemKindPointsSweep         DueItemKind = "points_sweep"
	DueItemKindSettlementReconcile DueItemKind = "settlement_reconcile"
)

// DefaultDueItemMaxRetries is used when an item is enqueued without a retry budget
const DefaultDueItemMaxRetries = 3

// DueItem is a unit of time-triggered work claimed by the dispatcher
type DueItem struct {
	ID          int64           `db:"id"`
	Kind        DueItemKind     `db:"kind"`
	PayloadRef  string          `db:"payload_ref"`
	Payload     json.RawMessage `db:"payload"`
	DedupeKey   *string         `db:"dedupe_key"`
	ScheduledAt time.Time       `db:"scheduled_at"`
	Status      DueItemStatus   `db:"status"`
	RetryCount  int             `db:"retry_count"`
	MaxRetries  int             `db:"max_retries"`
	LastError   *string         `db:"last_error"`
	ProcessedAt *time.Time      `db:"processed_at"`
	CreatedAt   time.Time       `db:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"`
}

// IsTerminal returns true once the item can no longer change state
func (d *DueItem) IsTerminal() bool {
	return d.Status == DueItemStatusSent || d.Status == DueItemStatusFailed
}

// RetriesExhausted reports whether one more failure would fail the item for good
func (d *DueItem) RetriesExhausted(nextRetryCount int) bool {
	return nextRetryCount >= d.MaxRetries
}

// NotificationPayload is the payload of a notification due item
type NotificationPayload struct {
	Template    string            `json:"template"`
	UserRef     string            `json:"user_ref"`
	ExternalRef string            `json:"external_ref,omitempty"`
	Data        map[string]string `json:"data,omitempty"`
}

// NotificationTemplateVerificationReminder asks a user to complete verification
const NotificationTemplateVerificationReminder = "verification_reminder"

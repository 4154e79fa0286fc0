package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"rewarder/models"
	"rewarder/service"

	log "github.com/sirupsen/logrus"
)

// Notifier delivers a user notification to the outside world
type Notifier interface {
	Notify(ctx context.Context, notification models.NotificationPayload) error
}

// classify maps a service error to a dispatch outcome. Validation failures
// and unknown settlements never succeed on retry.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, service.ErrValidation), errors.Is(err, service.ErrSettlementNotFound):
		return Fatal(err)
	default:
		return Retryable(err)
	}
}

// NotificationHandler delivers notification items
type NotificationHandler struct {
	notifier Notifier
}

func NewNotificationHandler(notifier Notifier) *NotificationHandler {
	return &NotificationHandler{notifier: notifier}
}

func (h *NotificationHandler) Handle(ctx context.Context, item *models.DueItem) error {
	var payload models.NotificationPayload
	if err := json.Unmarshal(item.Payload, &payload); err != nil {
		return Fatal(fmt.Errorf("invalid notification payload: %w", err))
	}
	if payload.Template == "" || payload.UserRef == "" {
		return Fatal(fmt.Errorf("notification payload needs a template and a user"))
	}

	if err := h.notifier.Notify(ctx, payload); err != nil {
		return Retryable(fmt.Errorf("failed to deliver %s to %s: %w", payload.Template, payload.UserRef, err))
	}
	return nil
}

// PointsExpiryHandler expires the single points transaction named by the
// item's payload reference
type PointsExpiryHandler struct {
	points service.PointsLedger
	now    func() time.Time
}

func NewPointsExpiryHandler(points service.PointsLedger) *PointsExpiryHandler {
	return &PointsExpiryHandler{points: points, now: time.Now}
}

func (h *PointsExpiryHandler) Handle(ctx context.Context, item *models.DueItem) error {
	id, err := strconv.ParseInt(item.PayloadRef, 10, 64)
	if err != nil {
		return Fatal(fmt.Errorf("invalid points transaction id %q", item.PayloadRef))
	}

	expired, err := h.points.ExpireTransaction(ctx, id, h.now())
	if err != nil {
		return classify(err)
	}
	if !expired {
		log.WithField("transactionID", id).Debug("Points transaction already settled, nothing to expire")
	}
	return nil
}

// PointsSweepHandler expires every overdue earn. The dispatcher keeps it
// scheduled through AddRecurring.
type PointsSweepHandler struct {
	points service.PointsLedger
	now    func() time.Time
}

func NewPointsSweepHandler(points service.PointsLedger) *PointsSweepHandler {
	return &PointsSweepHandler{points: points, now: time.Now}
}

func (h *PointsSweepHandler) Handle(ctx context.Context, item *models.DueItem) error {
	_, err := h.points.SweepExpired(ctx, h.now())
	return classify(err)
}

// SettlementReconcileHandler finishes or compensates the settlement named by
// the item's payload reference
type SettlementReconcileHandler struct {
	settlements service.SettlementService
}

func NewSettlementReconcileHandler(settlements service.SettlementService) *SettlementReconcileHandler {
	return &SettlementReconcileHandler{settlements: settlements}
}

func (h *SettlementReconcileHandler) Handle(ctx context.Context, item *models.DueItem) error {
	settlement, err := h.settlements.Reconcile(ctx, item.PayloadRef)
	if err != nil {
		return classify(err)
	}

	log.WithFields(log.Fields{
		"externalRef": settlement.ExternalRef,
		"status":      settlement.Status,
	}).Debug("Settlement reconciled")
	return nil
}

// RegisterDefaultHandlers wires the handlers for every built-in kind
func RegisterDefaultHandlers(registry *Registry, notifier Notifier, points service.PointsLedger, settlements service.SettlementService) {
	registry.Register(models.DueItemKindNotification, NewNotificationHandler(notifier))
	registry.Register(models.DueItemKindPointsExpiry, NewPointsExpiryHandler(points))
	registry.Register(models.DueItemKindPointsSweep, NewPointsSweepHandler(points))
	registry.Register(models.DueItemKindSettlementReconcile, NewSettlementReconcileHandler(settlements))
}

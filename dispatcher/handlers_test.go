package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"rewarder/models"
	"rewarder/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, notification models.NotificationPayload) error {
	args := m.Called(ctx, notification)
	return args.Error(0)
}

func notificationItem(t *testing.T, payload models.NotificationPayload) *models.DueItem {
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	item := dueItem(1, models.DueItemKindNotification, 0)
	item.Payload = raw
	return item
}

func TestNotificationHandler(t *testing.T) {
	ctx := context.Background()
	payload := models.NotificationPayload{
		Template:    models.NotificationTemplateVerificationReminder,
		UserRef:     "user-1",
		ExternalRef: "order-1",
		Data:        map[string]string{"amount": "5.00"},
	}

	t.Run("delivers", func(t *testing.T) {
		notifier := new(mockNotifier)
		notifier.On("Notify", ctx, payload).Return(nil)

		err := NewNotificationHandler(notifier).Handle(ctx, notificationItem(t, payload))

		require.NoError(t, err)
		notifier.AssertExpectations(t)
	})

	t.Run("delivery failure is retryable", func(t *testing.T) {
		notifier := new(mockNotifier)
		notifier.On("Notify", ctx, payload).Return(errors.New("no responders"))

		err := NewNotificationHandler(notifier).Handle(ctx, notificationItem(t, payload))

		require.Error(t, err)
		assert.False(t, IsFatal(err))
		var retryable *RetryableError
		assert.ErrorAs(t, err, &retryable)
	})

	t.Run("malformed payload is fatal", func(t *testing.T) {
		notifier := new(mockNotifier)
		item := dueItem(1, models.DueItemKindNotification, 0)
		item.Payload = json.RawMessage(`{"template":`)

		err := NewNotificationHandler(notifier).Handle(ctx, item)

		assert.True(t, IsFatal(err))
		notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
	})

	t.Run("missing user is fatal", func(t *testing.T) {
		notifier := new(mockNotifier)

		err := NewNotificationHandler(notifier).Handle(ctx, notificationItem(t, models.NotificationPayload{Template: "x"}))

		assert.True(t, IsFatal(err))
	})
}

func TestPointsExpiryHandler(t *testing.T) {
	ctx := context.Background()

	newHandler := func(points service.PointsLedger) *PointsExpiryHandler {
		h := NewPointsExpiryHandler(points)
		h.now = func() time.Time { return fixedNow }
		return h
	}

	t.Run("expires the referenced transaction", func(t *testing.T) {
		points := new(service.MockPointsLedger)
		points.On("ExpireTransaction", ctx, int64(77), fixedNow).Return(true, nil)
		item := dueItem(1, models.DueItemKindPointsExpiry, 0)
		item.PayloadRef = "77"

		require.NoError(t, newHandler(points).Handle(ctx, item))
		points.AssertExpectations(t)
	})

	t.Run("already settled transaction is not an error", func(t *testing.T) {
		points := new(service.MockPointsLedger)
		points.On("ExpireTransaction", ctx, int64(77), fixedNow).Return(false, nil)
		item := dueItem(1, models.DueItemKindPointsExpiry, 0)
		item.PayloadRef = "77"

		assert.NoError(t, newHandler(points).Handle(ctx, item))
	})

	t.Run("non numeric reference is fatal", func(t *testing.T) {
		points := new(service.MockPointsLedger)
		item := dueItem(1, models.DueItemKindPointsExpiry, 0)
		item.PayloadRef = "abc"

		assert.True(t, IsFatal(newHandler(points).Handle(ctx, item)))
		points.AssertNotCalled(t, "ExpireTransaction", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("store failure is retryable", func(t *testing.T) {
		points := new(service.MockPointsLedger)
		points.On("ExpireTransaction", ctx, int64(77), fixedNow).
			Return(false, fmt.Errorf("failed to lock wallet: %w", service.ErrTransient))
		item := dueItem(1, models.DueItemKindPointsExpiry, 0)
		item.PayloadRef = "77"

		err := newHandler(points).Handle(ctx, item)
		require.Error(t, err)
		assert.False(t, IsFatal(err))
	})
}

func TestPointsSweepHandler(t *testing.T) {
	ctx := context.Background()
	points := new(service.MockPointsLedger)
	points.On("SweepExpired", ctx, fixedNow).Return(4, nil)

	h := NewPointsSweepHandler(points)
	h.now = func() time.Time { return fixedNow }

	require.NoError(t, h.Handle(ctx, dueItem(1, models.DueItemKindPointsSweep, 0)))
	points.AssertExpectations(t)
}

func TestSettlementReconcileHandler(t *testing.T) {
	ctx := context.Background()
	item := dueItem(1, models.DueItemKindSettlementReconcile, 0)
	item.PayloadRef = "order-1"

	t.Run("reconciles", func(t *testing.T) {
		settlements := new(service.MockSettlementService)
		settlements.On("Reconcile", ctx, "order-1").Return(&models.Settlement{
			ExternalRef: "order-1",
			Status:      models.SettlementStatusCompleted,
		}, nil)

		require.NoError(t, NewSettlementReconcileHandler(settlements).Handle(ctx, item))
		settlements.AssertExpectations(t)
	})

	t.Run("unknown settlement is fatal", func(t *testing.T) {
		settlements := new(service.MockSettlementService)
		settlements.On("Reconcile", ctx, "order-1").
			Return(nil, fmt.Errorf("%w: order-1", service.ErrSettlementNotFound))

		assert.True(t, IsFatal(NewSettlementReconcileHandler(settlements).Handle(ctx, item)))
	})

	t.Run("settlement in progress is retried", func(t *testing.T) {
		settlements := new(service.MockSettlementService)
		settlements.On("Reconcile", ctx, "order-1").
			Return(nil, fmt.Errorf("%w: order-1", service.ErrSettlementInProgress))

		err := NewSettlementReconcileHandler(settlements).Handle(ctx, item)
		require.Error(t, err)
		assert.False(t, IsFatal(err))
		assert.ErrorIs(t, err, service.ErrSettlementInProgress)
	})
}

func TestRegisterDefaultHandlers(t *testing.T) {
	registry := NewRegistry()
	RegisterDefaultHandlers(registry, new(mockNotifier), new(service.MockPointsLedger), new(service.MockSettlementService))

	assert.Equal(t, []models.DueItemKind{
		models.DueItemKindNotification,
		models.DueItemKindPointsExpiry,
		models.DueItemKindPointsSweep,
		models.DueItemKindSettlementReconcile,
	}, registry.Kinds())
}

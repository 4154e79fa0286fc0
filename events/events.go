package events

import (
	"context"
	"sync"

	"rewarder/models"

	log "github.com/sirupsen/logrus"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventTypeBudgetTransaction     EventType = "budget_transaction"
	EventTypeBudgetAccountStatus   EventType = "budget_account_status"
	EventTypePointsEarned          EventType = "points_earned"
	EventTypePointsVerified        EventType = "points_verified"
	EventTypePointsRedeemed        EventType = "points_redeemed"
	EventTypePointsExpired         EventType = "points_expired"
	EventTypeSettlementCompleted   EventType = "settlement_completed"
	EventTypeSettlementCompensated EventType = "settlement_compensated"
	EventTypeSettlementReversed    EventType = "settlement_reversed"
	EventTypeDueItemFailed         EventType = "due_item_failed"
)

// AllEventTypes lists every event type the ledgers emit
var AllEventTypes = []EventType{
	EventTypeBudgetTransaction,
	EventTypeBudgetAccountStatus,
	EventTypePointsEarned,
	EventTypePointsVerified,
	EventTypePointsRedeemed,
	EventTypePointsExpired,
	EventTypeSettlementCompleted,
	EventTypeSettlementCompensated,
	EventTypeSettlementReversed,
	EventTypeDueItemFailed,
}

// Event is the base interface for all events
type Event interface {
	Type() EventType
}

// BudgetTransactionEvent is emitted for every committed budget mutation
type BudgetTransactionEvent struct {
	MerchantRef     string                       `json:"merchant_ref"`
	TransactionID   int64                        `json:"transaction_id"`
	TransactionType models.BudgetTransactionType `json:"transaction_type"`
	Amount          int64                        `json:"amount"`
	BalanceBefore   int64                        `json:"balance_before"`
	BalanceAfter    int64                        `json:"balance_after"`
	ExternalRef     string                       `json:"external_ref,omitempty"`
}

func (e BudgetTransactionEvent) Type() EventType {
	return EventTypeBudgetTransaction
}

// BudgetAccountStatusEvent is emitted when an account is suspended or reactivated
type BudgetAccountStatusEvent struct {
	MerchantRef string                     `json:"merchant_ref"`
	OldStatus   models.BudgetAccountStatus `json:"old_status"`
	NewStatus   models.BudgetAccountStatus `json:"new_status"`
}

func (e BudgetAccountStatusEvent) Type() EventType {
	return EventTypeBudgetAccountStatus
}

// PointsEarnedEvent is emitted when value is credited to a wallet
type PointsEarnedEvent struct {
	UserRef       string              `json:"user_ref"`
	TransactionID int64               `json:"transaction_id"`
	Amount        int64               `json:"amount"`
	Status        models.PointsStatus `json:"status"`
	ExternalRef   string              `json:"external_ref,omitempty"`
}

func (e PointsEarnedEvent) Type() EventType {
	return EventTypePointsEarned
}

// PointsVerifiedEvent is emitted when pending value becomes available
type PointsVerifiedEvent struct {
	UserRef     string `json:"user_ref"`
	ExternalRef string `json:"external_ref"`
	Amount      int64  `json:"amount"`
	Count       int    `json:"count"`
}

func (e PointsVerifiedEvent) Type() EventType {
	return EventTypePointsVerified
}

// PointsRedeemedEvent is emitted when available value is spent
type PointsRedeemedEvent struct {
	UserRef          string `json:"user_ref"`
	TransactionID    int64  `json:"transaction_id"`
	Amount           int64  `json:"amount"`
	AvailableBalance int64  `json:"available_balance"`
}

func (e PointsRedeemedEvent) Type() EventType {
	return EventTypePointsRedeemed
}

// PointsExpiredEvent is emitted when value leaves a bucket through expiry
type PointsExpiredEvent struct {
	UserRef       string              `json:"user_ref"`
	TransactionID int64               `json:"transaction_id"`
	Amount        int64               `json:"amount"`
	FromStatus    models.PointsStatus `json:"from_status"`
}

func (e PointsExpiredEvent) Type() EventType {
	return EventTypePointsExpired
}

// SettlementEvent carries a settlement's terminal transition
type SettlementEvent struct {
	EventKind    EventType               `json:"-"`
	ExternalRef  string                  `json:"external_ref"`
	MerchantRef  string                  `json:"merchant_ref"`
	UserRef      string                  `json:"user_ref"`
	RewardAmount int64                   `json:"reward_amount"`
	Status       models.SettlementStatus `json:"status"`
}

func (e SettlementEvent) Type() EventType {
	return e.EventKind
}

// DueItemFailedEvent surfaces a due item that exhausted its retries
type DueItemFailedEvent struct {
	ItemID     int64              `json:"item_id"`
	Kind       models.DueItemKind `json:"kind"`
	PayloadRef string             `json:"payload_ref"`
	RetryCount int                `json:"retry_count"`
	LastError  string             `json:"last_error"`
}

func (e DueItemFailedEvent) Type() EventType {
	return EventTypeDueItemFailed
}

// Handler is a function that handles events
type Handler func(ctx context.Context, event Event)

// Bus manages event subscriptions and dispatching
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	wg       sync.WaitGroup
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe adds a handler for a specific event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)

	log.WithFields(log.Fields{
		"eventType":    eventType,
		"handlerCount": len(b.handlers[eventType]),
	}).Debug("Subscribed handler to event type")
}

// Emit hands an event to every registered handler. Handlers run on their own
// goroutines; a panicking handler is logged and does not affect the others.
func (b *Bus) Emit(ctx context.Context, event Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[event.Type()]))
	copy(handlers, b.handlers[event.Type()])
	b.mu.RUnlock()

	log.WithFields(log.Fields{
		"eventType":    event.Type(),
		"handlerCount": len(handlers),
	}).Debug("Emitting event")

	for i, handler := range handlers {
		b.wg.Add(1)
		go func(h Handler, handlerIndex int) {
			defer b.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.WithFields(log.Fields{
						"eventType":    event.Type(),
						"handlerIndex": handlerIndex,
						"panic":        r,
					}).Error("Event handler panicked")
				}
			}()
			h(ctx, event)
		}(handler, i)
	}
}

// Wait blocks until every handler started by Emit has returned
func (b *Bus) Wait() {
	b.wg.Wait()
}

// TransactionalBus holds events raised inside a unit of work until the
// underlying transaction commits.
type TransactionalBus struct {
	real    *Bus
	pending []Event
}

func NewTransactionalBus(real *Bus) *TransactionalBus {
	return &TransactionalBus{real: real}
}

func (b *TransactionalBus) Publish(e Event) {
	b.pending = append(b.pending, e)
}

// Flush emits the pending events. Called after a successful commit.
func (b *TransactionalBus) Flush() {
	if b.real == nil {
		b.pending = nil
		return
	}

	log.WithField("pendingEventCount", len(b.pending)).Debug("Flushing transactional bus")

	// Handlers outlive the request that raised the event
	eventCtx := context.Background()
	for _, ev := range b.pending {
		b.real.Emit(eventCtx, ev)
	}
	b.pending = nil
}

// Discard drops pending events after a rollback
func (b *TransactionalBus) Discard() {
	b.pending = nil
}

// Pending returns the number of events waiting for Flush
func (b *TransactionalBus) Pending() int {
	return len(b.pending)
}

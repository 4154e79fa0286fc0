package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rewarder/events"
	"rewarder/infrastructure/observability"
	"rewarder/models"
	"rewarder/service"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultInterval  = time.Minute
	DefaultBatchSize = 100
)

// Config holds the polling policy of one dispatcher
type Config struct {
	// Name identifies the dispatcher in logs when several run in one process
	Name      string
	Interval  time.Duration
	BatchSize int
	// MaxRetries is the retry budget given to items enqueued through Enqueue
	// without one
	MaxRetries int
}

// PassSummary reports what one dispatch pass did
type PassSummary struct {
	Claimed int
	Sent    int
	Retried int
	Failed  int
}

// recurringJob is a self-rescheduling item kept alive by every pass
type recurringJob struct {
	kind       models.DueItemKind
	payloadRef string
	interval   time.Duration
}

// Dispatcher claims due items from one store and hands them to the handler
// registered for their kind. Any number of dispatchers may poll the same
// store; claims skip rows locked by another pass.
type Dispatcher struct {
	uowFactory service.UnitOfWorkFactory
	registry   *Registry
	config     Config
	recurring  []recurringJob
	now        func() time.Time
}

// New creates a dispatcher over the store behind uowFactory
func New(uowFactory service.UnitOfWorkFactory, registry *Registry, config Config) *Dispatcher {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = models.DefaultDueItemMaxRetries
	}
	if config.Name == "" {
		config.Name = "default"
	}
	return &Dispatcher{
		uowFactory: uowFactory,
		registry:   registry,
		config:     config,
		now:        time.Now,
	}
}

// AddRecurring keeps one pending item of kind scheduled every interval.
// The kind must have a registered handler.
func (d *Dispatcher) AddRecurring(kind models.DueItemKind, payloadRef string, interval time.Duration) {
	d.recurring = append(d.recurring, recurringJob{
		kind:       kind,
		payloadRef: payloadRef,
		interval:   interval,
	})
}

// Start runs a pass immediately and then every Interval until ctx is done.
// Returns a cleanup function that stops the worker.
func (d *Dispatcher) Start(ctx context.Context) func() {
	ticker := time.NewTicker(d.config.Interval)
	stopChan := make(chan struct{})
	done := make(chan struct{})

	runPass := func() {
		if _, err := d.RunOnce(ctx); err != nil && ctx.Err() == nil {
			log.WithFields(log.Fields{
				"dispatcher": d.config.Name,
				"error":      err,
			}).Error("Dispatch pass failed")
		}
	}

	go func() {
		defer close(done)
		log.WithFields(log.Fields{
			"dispatcher": d.config.Name,
			"interval":   d.config.Interval,
			"batchSize":  d.config.BatchSize,
			"kinds":      d.registry.Kinds(),
		}).Info("Dispatcher started")

		runPass()

		for {
			select {
			case <-ctx.Done():
				log.WithField("dispatcher", d.config.Name).Info("Dispatcher shutting down (context cancelled)...")
				return
			case <-stopChan:
				log.WithField("dispatcher", d.config.Name).Info("Dispatcher shutting down (stop requested)...")
				return
			case <-ticker.C:
				runPass()
			}
		}
	}()

	return func() {
		ticker.Stop()
		close(stopChan)
		<-done
	}
}

// RunOnce performs one dispatch pass: it tops up recurring jobs, then claims
// due items in a single transaction, runs their handlers and records each
// outcome. Committing the transaction releases the claims.
func (d *Dispatcher) RunOnce(ctx context.Context) (*PassSummary, error) {
	start := d.now()
	summary := &PassSummary{}

	if err := d.ensureRecurring(ctx, start); err != nil {
		// The claim below still runs; recurring jobs catch up next pass
		log.WithFields(log.Fields{
			"dispatcher": d.config.Name,
			"error":      err,
		}).Warn("Failed to schedule recurring jobs")
	}

	uow := d.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return summary, fmt.Errorf("failed to begin dispatch transaction: %w", err)
	}
	defer uow.Rollback()

	items, err := uow.DueItemRepository().ClaimDue(ctx, start, d.config.BatchSize)
	if err != nil {
		return summary, fmt.Errorf("failed to claim due items: %w", err)
	}
	summary.Claimed = len(items)

	for _, item := range items {
		outcome, err := d.process(ctx, uow, item)
		if err != nil {
			return summary, err
		}
		switch outcome {
		case observability.DispatchOutcomeSent:
			summary.Sent++
		case observability.DispatchOutcomeRetry:
			summary.Retried++
		case observability.DispatchOutcomeFailed:
			summary.Failed++
		}
	}

	if err := uow.Commit(); err != nil {
		return summary, fmt.Errorf("failed to commit dispatch pass: %w", err)
	}

	observability.GetMetrics().RecordDispatchPass(ctx, summary.Claimed, time.Since(start))
	if summary.Claimed > 0 {
		log.WithFields(log.Fields{
			"dispatcher": d.config.Name,
			"claimed":    summary.Claimed,
			"sent":       summary.Sent,
			"retried":    summary.Retried,
			"failed":     summary.Failed,
		}).Info("Dispatch pass completed")
	}
	return summary, nil
}

// process runs one claimed item and records its outcome inside the claim
// transaction. Only a failure to record the outcome is returned as an error.
func (d *Dispatcher) process(ctx context.Context, uow service.UnitOfWork, item *models.DueItem) (string, error) {
	logger := log.WithFields(log.Fields{
		"dispatcher": d.config.Name,
		"itemID":     item.ID,
		"kind":       item.Kind,
		"payloadRef": item.PayloadRef,
	})

	handleErr := d.invoke(ctx, item)
	repo := uow.DueItemRepository()

	if handleErr == nil {
		if err := repo.MarkSent(ctx, item.ID, d.now()); err != nil {
			return "", fmt.Errorf("failed to mark item %d sent: %w", item.ID, err)
		}
		observability.GetMetrics().RecordDispatchItem(ctx, string(item.Kind), observability.DispatchOutcomeSent)
		logger.Debug("Due item sent")
		return observability.DispatchOutcomeSent, nil
	}

	retryCount := item.RetryCount + 1
	lastError := handleErr.Error()

	if IsFatal(handleErr) || item.RetriesExhausted(retryCount) {
		if err := repo.MarkFailed(ctx, item.ID, retryCount, lastError, d.now()); err != nil {
			return "", fmt.Errorf("failed to mark item %d failed: %w", item.ID, err)
		}
		uow.EventBus().Publish(events.DueItemFailedEvent{
			ItemID:     item.ID,
			Kind:       item.Kind,
			PayloadRef: item.PayloadRef,
			RetryCount: retryCount,
			LastError:  lastError,
		})
		observability.GetMetrics().RecordDispatchItem(ctx, string(item.Kind), observability.DispatchOutcomeFailed)
		logger.WithFields(log.Fields{
			"retryCount": retryCount,
			"error":      handleErr,
		}).Error("Due item failed")
		return observability.DispatchOutcomeFailed, nil
	}

	if err := repo.MarkRetry(ctx, item.ID, retryCount, lastError); err != nil {
		return "", fmt.Errorf("failed to record retry of item %d: %w", item.ID, err)
	}
	observability.GetMetrics().RecordDispatchItem(ctx, string(item.Kind), observability.DispatchOutcomeRetry)
	logger.WithFields(log.Fields{
		"retryCount": retryCount,
		"maxRetries": item.MaxRetries,
		"error":      handleErr,
	}).Warn("Due item will be retried")
	return observability.DispatchOutcomeRetry, nil
}

// invoke runs the handler for item, turning a missing handler or a panic
// into an error
func (d *Dispatcher) invoke(ctx context.Context, item *models.DueItem) (err error) {
	handler, ok := d.registry.Lookup(item.Kind)
	if !ok {
		return Fatal(fmt.Errorf("no handler registered for kind %q", item.Kind))
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler.Handle(ctx, item)
}

func (d *Dispatcher) ensureRecurring(ctx context.Context, now time.Time) error {
	if len(d.recurring) == 0 {
		return nil
	}

	uow := d.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	for _, job := range d.recurring {
		inserted, err := uow.DueItemRepository().EnsureRecurring(ctx, job.kind, job.payloadRef, job.interval, now)
		if err != nil {
			return fmt.Errorf("failed to schedule %s: %w", job.kind, err)
		}
		if inserted {
			log.WithFields(log.Fields{
				"dispatcher": d.config.Name,
				"kind":       job.kind,
				"interval":   job.interval,
			}).Debug("Scheduled recurring job")
		}
	}

	return uow.Commit()
}

// Enqueue schedules a one-off item
func (d *Dispatcher) Enqueue(ctx context.Context, item *models.DueItem) error {
	if item.Kind == "" {
		return fmt.Errorf("%w: due item kind is required", service.ErrValidation)
	}
	if _, ok := d.registry.Lookup(item.Kind); !ok {
		return fmt.Errorf("%w: no handler registered for kind %q", service.ErrValidation, item.Kind)
	}
	if item.MaxRetries <= 0 {
		item.MaxRetries = d.config.MaxRetries
	}
	if item.ScheduledAt.IsZero() {
		item.ScheduledAt = d.now()
	}

	uow := d.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	if err := uow.DueItemRepository().Enqueue(ctx, item); err != nil {
		return fmt.Errorf("failed to enqueue due item: %w", err)
	}
	return uow.Commit()
}

// ListFailed returns items that exhausted their retries, newest first
func (d *Dispatcher) ListFailed(ctx context.Context, limit int) ([]*models.DueItem, error) {
	if limit <= 0 {
		limit = 50
	}

	uow := d.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	items, err := uow.DueItemRepository().ListFailed(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed items: %w", err)
	}
	return items, nil
}

var (
	// ErrItemNotFailed is returned when requeueing an item that is not failed
	ErrItemNotFailed = errors.New("due item is not failed")
	// ErrItemAlreadyRequeued is returned while an earlier copy is still pending
	ErrItemAlreadyRequeued = errors.New("due item already requeued")
)

// Requeue schedules a new pending item for the next pass with the same kind
// and payload as a failed one. The failed item keeps its status and retry
// history.
func (d *Dispatcher) Requeue(ctx context.Context, id int64) (*models.DueItem, error) {
	uow := d.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	retry, err := uow.DueItemRepository().Requeue(ctx, id, d.now())
	if err != nil {
		return nil, fmt.Errorf("failed to requeue item %d: %w", id, err)
	}
	if retry == nil {
		original, err := uow.DueItemRepository().GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to get item %d: %w", id, err)
		}
		if original != nil && original.Status == models.DueItemStatusFailed {
			return nil, fmt.Errorf("%w: %d", ErrItemAlreadyRequeued, id)
		}
		return nil, fmt.Errorf("%w: %d", ErrItemNotFailed, id)
	}

	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit requeue: %w", err)
	}

	log.WithFields(log.Fields{
		"dispatcher": d.config.Name,
		"itemID":     id,
		"retryID":    retry.ID,
		"kind":       retry.Kind,
	}).Info("Failed due item requeued")
	return retry, nil
}

// Stats returns item counts per status
func (d *Dispatcher) Stats(ctx context.Context) (map[models.DueItemStatus]int64, error) {
	uow := d.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	return uow.DueItemRepository().CountByStatus(ctx)
}

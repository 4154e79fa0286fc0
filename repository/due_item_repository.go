package repository

import (
	"context"
	"fmt"
	"time"

	"rewarder/database"
	"rewarder/models"

	"github.com/jackc/pgx/v5"
)

const dueItemColumns = `id, kind, payload_ref, payload, dedupe_key, scheduled_at, status, retry_count,
	max_retries, last_error, processed_at, created_at, updated_at`

// DueItemRepository implements the DueItemRepository interface
type DueItemRepository struct {
	q queryable
}

// NewDueItemRepository creates a new due item repository
func NewDueItemRepository(db *database.DB) *DueItemRepository {
	return &DueItemRepository{q: db.Pool}
}

func newDueItemRepositoryWithTx(tx queryable) *DueItemRepository {
	return &DueItemRepository{q: tx}
}

func scanDueItem(row pgx.Row) (*models.DueItem, error) {
	var item models.DueItem
	var payload []byte
	err := row.Scan(
		&item.ID,
		&item.Kind,
		&item.PayloadRef,
		&payload,
		&item.DedupeKey,
		&item.ScheduledAt,
		&item.Status,
		&item.RetryCount,
		&item.MaxRetries,
		&item.LastError,
		&item.ProcessedAt,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	item.Payload = payload
	return &item, nil
}

func (r *DueItemRepository) queryItems(ctx context.Context, query string, args ...any) ([]*models.DueItem, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*models.DueItem
	for rows.Next() {
		item, err := scanDueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan due item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Enqueue inserts a pending item. An empty payload is stored as {} and a
// missing retry budget falls back to the default.
func (r *DueItemRepository) Enqueue(ctx context.Context, item *models.DueItem) error {
	if item.MaxRetries <= 0 {
		item.MaxRetries = models.DefaultDueItemMaxRetries
	}
	payload := "{}"
	if len(item.Payload) > 0 {
		payload = string(item.Payload)
	}

	query := `
		INSERT INTO due_items (kind, payload_ref, payload, dedupe_key, scheduled_at, max_retries)
		VALUES ($1, $2, $3::jsonb, $4, $5, $6)
		RETURNING id, status, retry_count, created_at, updated_at
	`

	err := r.q.QueryRow(ctx, query,
		item.Kind,
		item.PayloadRef,
		payload,
		item.DedupeKey,
		item.ScheduledAt,
		item.MaxRetries,
	).Scan(&item.ID, &item.Status, &item.RetryCount, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to enqueue %s item for %s: %w", item.Kind, item.PayloadRef, err)
	}
	return nil
}

// RecurringDedupeKey is the dedupe key shared by every occurrence of a recurring job
func RecurringDedupeKey(kind models.DueItemKind, payloadRef string) string {
	return fmt.Sprintf("recurring:%s:%s", kind, payloadRef)
}

// EnsureRecurring makes sure exactly one pending occurrence of a recurring job
// exists. The next occurrence is scheduled one interval after the last one
// finished, or at now when the job never ran. It reports whether a row was
// inserted.
func (r *DueItemRepository) EnsureRecurring(ctx context.Context, kind models.DueItemKind, payloadRef string, interval time.Duration, now time.Time) (bool, error) {
	dedupeKey := RecurringDedupeKey(kind, payloadRef)
	query := `
		INSERT INTO due_items (kind, payload_ref, dedupe_key, scheduled_at, max_retries)
		SELECT $1::text, $2::text, $3::text,
			COALESCE(
				(SELECT MAX(processed_at) FROM due_items
				 WHERE dedupe_key = $3::text AND status IN ('sent', 'failed'))
				+ make_interval(secs => $4::double precision),
				$5::timestamptz
			),
			$6::int
		ON CONFLICT (dedupe_key) WHERE status = 'pending' DO NOTHING
	`

	result, err := r.q.Exec(ctx, query,
		kind,
		payloadRef,
		dedupeKey,
		interval.Seconds(),
		now,
		models.DefaultDueItemMaxRetries,
	)
	if err != nil {
		return false, fmt.Errorf("failed to ensure recurring %s item: %w", kind, err)
	}
	return result.RowsAffected() == 1, nil
}

// ClaimDue locks up to limit due items, skipping rows another pass holds.
// The locks last until the surrounding transaction ends.
func (r *DueItemRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*models.DueItem, error) {
	query := `
		SELECT ` + dueItemColumns + `
		FROM due_items
		WHERE status = 'pending'
		  AND scheduled_at <= $1
		  AND retry_count < max_retries
		ORDER BY scheduled_at, id
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`

	items, err := r.queryItems(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim due items: %w", err)
	}
	return items, nil
}

func (r *DueItemRepository) MarkSent(ctx context.Context, id int64, processedAt time.Time) error {
	query := `
		UPDATE due_items
		SET status = 'sent', processed_at = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`
	return r.execTransition(ctx, "sent", id, query, id, processedAt)
}

// MarkRetry records a failed attempt and leaves the item pending
func (r *DueItemRepository) MarkRetry(ctx context.Context, id int64, retryCount int, lastError string) error {
	query := `
		UPDATE due_items
		SET retry_count = $2, last_error = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`
	return r.execTransition(ctx, "retry", id, query, id, retryCount, lastError)
}

func (r *DueItemRepository) MarkFailed(ctx context.Context, id int64, retryCount int, lastError string, processedAt time.Time) error {
	query := `
		UPDATE due_items
		SET status = 'failed', retry_count = $2, last_error = $3, processed_at = $4, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`
	return r.execTransition(ctx, "failed", id, query, id, retryCount, lastError, processedAt)
}

func (r *DueItemRepository) execTransition(ctx context.Context, transition string, id int64, query string, args ...any) error {
	result, err := r.q.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to mark due item %d %s: %w", id, transition, err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("due item %d is not pending", id)
	}
	return nil
}

func (r *DueItemRepository) GetByID(ctx context.Context, id int64) (*models.DueItem, error) {
	query := `SELECT ` + dueItemColumns + ` FROM due_items WHERE id = $1`

	item, err := scanDueItem(r.q.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get due item %d: %w", id, err)
	}
	return item, nil
}

// ListFailed returns the operator queue, most recently failed first
func (r *DueItemRepository) ListFailed(ctx context.Context, limit int) ([]*models.DueItem, error) {
	query := `
		SELECT ` + dueItemColumns + `
		FROM due_items
		WHERE status = 'failed'
		ORDER BY processed_at DESC NULLS LAST, id DESC
		LIMIT $1
	`

	items, err := r.queryItems(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed due items: %w", err)
	}
	return items, nil
}

// RequeueDedupeKey links a retry copy to the failed item it was made from
func RequeueDedupeKey(id int64) string {
	return fmt.Sprintf("requeue:%d", id)
}

// Requeue enqueues a pending copy of a failed item carrying its kind, payload
// and retry budget. The failed row itself never changes. It returns nil when
// the item is not failed or a copy of it is still pending.
func (r *DueItemRepository) Requeue(ctx context.Context, id int64, scheduledAt time.Time) (*models.DueItem, error) {
	query := `
		INSERT INTO due_items (kind, payload_ref, payload, dedupe_key, scheduled_at, max_retries)
		SELECT kind, payload_ref, payload, $2::text, $3::timestamptz, max_retries
		FROM due_items
		WHERE id = $1 AND status = 'failed'
		ON CONFLICT (dedupe_key) WHERE status = 'pending' DO NOTHING
		RETURNING ` + dueItemColumns

	item, err := scanDueItem(r.q.QueryRow(ctx, query, id, RequeueDedupeKey(id), scheduledAt))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to requeue due item %d: %w", id, err)
	}
	return item, nil
}

func (r *DueItemRepository) CountByStatus(ctx context.Context) (map[models.DueItemStatus]int64, error) {
	query := `SELECT status, COUNT(*) FROM due_items GROUP BY status`

	rows, err := r.q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count due items: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.DueItemStatus]int64)
	for rows.Next() {
		var status models.DueItemStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan due item count: %w", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating due item counts: %w", err)
	}
	return counts, nil
}

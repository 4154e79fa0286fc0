package repository

import (
	"context"
	"fmt"
	"time"

	"rewarder/database"
	"rewarder/models"

	"github.com/jackc/pgx/v5"
)

const pointsTransactionColumns = `id, user_ref, amount, kind, status, external_ref, verification_required,
	verification_deadline, expires_at, created_at, processed_at`

// PointsTransactionRepository implements the PointsTransactionRepository interface
type PointsTransactionRepository struct {
	q queryable
}

// NewPointsTransactionRepository creates a new points transaction repository
func NewPointsTransactionRepository(db *database.DB) *PointsTransactionRepository {
	return &PointsTransactionRepository{q: db.Pool}
}

func newPointsTransactionRepositoryWithTx(tx queryable) *PointsTransactionRepository {
	return &PointsTransactionRepository{q: tx}
}

func scanPointsTransaction(row pgx.Row) (*models.PointsTransaction, error) {
	var txn models.PointsTransaction
	err := row.Scan(
		&txn.ID,
		&txn.UserRef,
		&txn.Amount,
		&txn.Kind,
		&txn.Status,
		&txn.ExternalRef,
		&txn.VerificationRequired,
		&txn.VerificationDeadline,
		&txn.ExpiresAt,
		&txn.CreatedAt,
		&txn.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *PointsTransactionRepository) queryTransactions(ctx context.Context, query string, args ...any) ([]*models.PointsTransaction, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []*models.PointsTransaction
	for rows.Next() {
		txn, err := scanPointsTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan points transaction: %w", err)
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

func (r *PointsTransactionRepository) queryUserRefs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var userRefs []string
	for rows.Next() {
		var userRef string
		if err := rows.Scan(&userRef); err != nil {
			return nil, fmt.Errorf("failed to scan user ref: %w", err)
		}
		userRefs = append(userRefs, userRef)
	}
	return userRefs, rows.Err()
}

// Create inserts a points transaction and fills in its ID and timestamp.
// A second earn for the same external reference violates a unique index.
func (r *PointsTransactionRepository) Create(ctx context.Context, txn *models.PointsTransaction) error {
	query := `
		INSERT INTO points_transactions (
			user_ref, amount, kind, status, external_ref, verification_required,
			verification_deadline, expires_at, processed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`

	err := r.q.QueryRow(ctx, query,
		txn.UserRef,
		txn.Amount,
		txn.Kind,
		txn.Status,
		txn.ExternalRef,
		txn.VerificationRequired,
		txn.VerificationDeadline,
		txn.ExpiresAt,
		txn.ProcessedAt,
	).Scan(&txn.ID, &txn.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create %s transaction for %s: %w", txn.Kind, txn.UserRef, err)
	}
	return nil
}

func (r *PointsTransactionRepository) GetByID(ctx context.Context, id int64) (*models.PointsTransaction, error) {
	query := `SELECT ` + pointsTransactionColumns + ` FROM points_transactions WHERE id = $1`

	txn, err := scanPointsTransaction(r.q.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get points transaction %d: %w", id, err)
	}
	return txn, nil
}

func (r *PointsTransactionRepository) GetByIDForUpdate(ctx context.Context, id int64) (*models.PointsTransaction, error) {
	query := `SELECT ` + pointsTransactionColumns + ` FROM points_transactions WHERE id = $1 FOR UPDATE`

	txn, err := scanPointsTransaction(r.q.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock points transaction %d: %w", id, err)
	}
	return txn, nil
}

// GetEarnByExternalRef returns the earn tagged with externalRef in any status
func (r *PointsTransactionRepository) GetEarnByExternalRef(ctx context.Context, externalRef string) (*models.PointsTransaction, error) {
	query := `SELECT ` + pointsTransactionColumns + ` FROM points_transactions WHERE external_ref = $1 AND kind = 'earn'`

	txn, err := scanPointsTransaction(r.q.QueryRow(ctx, query, externalRef))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get earn for %s: %w", externalRef, err)
	}
	return txn, nil
}

// ListPendingUserRefs returns the users holding pending rows for externalRef
func (r *PointsTransactionRepository) ListPendingUserRefs(ctx context.Context, externalRef string) ([]string, error) {
	query := `
		SELECT DISTINCT user_ref
		FROM points_transactions
		WHERE external_ref = $1 AND status = 'pending'
		ORDER BY user_ref
	`

	userRefs, err := r.queryUserRefs(ctx, query, externalRef)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending users for %s: %w", externalRef, err)
	}
	return userRefs, nil
}

// ListPendingForUpdate locks the user's pending rows for externalRef
func (r *PointsTransactionRepository) ListPendingForUpdate(ctx context.Context, userRef, externalRef string) ([]*models.PointsTransaction, error) {
	query := `
		SELECT ` + pointsTransactionColumns + `
		FROM points_transactions
		WHERE user_ref = $1 AND external_ref = $2 AND status = 'pending'
		ORDER BY id
		FOR UPDATE
	`

	txns, err := r.queryTransactions(ctx, query, userRef, externalRef)
	if err != nil {
		return nil, fmt.Errorf("failed to lock pending transactions for %s: %w", userRef, err)
	}
	return txns, nil
}

// ListExpiredUserRefs returns up to limit users with earns past expiry
func (r *PointsTransactionRepository) ListExpiredUserRefs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	query := `
		SELECT DISTINCT user_ref
		FROM points_transactions
		WHERE kind = 'earn'
		  AND status IN ('pending', 'available')
		  AND expires_at <= $1
		ORDER BY user_ref
		LIMIT $2
	`

	userRefs, err := r.queryUserRefs(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list users with expired points: %w", err)
	}
	return userRefs, nil
}

// ListExpiredForUpdate locks the user's earns that are past expiry
func (r *PointsTransactionRepository) ListExpiredForUpdate(ctx context.Context, userRef string, now time.Time) ([]*models.PointsTransaction, error) {
	query := `
		SELECT ` + pointsTransactionColumns + `
		FROM points_transactions
		WHERE user_ref = $1
		  AND kind = 'earn'
		  AND status IN ('pending', 'available')
		  AND expires_at <= $2
		ORDER BY id
		FOR UPDATE
	`

	txns, err := r.queryTransactions(ctx, query, userRef, now)
	if err != nil {
		return nil, fmt.Errorf("failed to lock expired transactions for %s: %w", userRef, err)
	}
	return txns, nil
}

func (r *PointsTransactionRepository) UpdateStatus(ctx context.Context, id int64, status models.PointsStatus, processedAt time.Time) error {
	query := `
		UPDATE points_transactions
		SET status = $2, processed_at = $3
		WHERE id = $1
	`

	result, err := r.q.Exec(ctx, query, id, status, processedAt)
	if err != nil {
		return fmt.Errorf("failed to set points transaction %d to %s: %w", id, status, err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("points transaction %d not found", id)
	}
	return nil
}

// DeletePending removes an unverified earn. Rows in any other status stay.
func (r *PointsTransactionRepository) DeletePending(ctx context.Context, id int64) error {
	query := `DELETE FROM points_transactions WHERE id = $1 AND status = 'pending'`

	result, err := r.q.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete pending transaction %d: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("pending transaction %d not found", id)
	}
	return nil
}

// SumByStatus recomputes the bucket totals from the user's rows
func (r *PointsTransactionRepository) SumByStatus(ctx context.Context, userRef string) (*models.PointsBucketTotals, error) {
	query := `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE status = 'available'), 0)::BIGINT,
			COALESCE(SUM(amount) FILTER (WHERE status = 'pending'), 0)::BIGINT,
			COALESCE(SUM(amount) FILTER (WHERE status = 'expired'), 0)::BIGINT
		FROM points_transactions
		WHERE user_ref = $1
	`

	var totals models.PointsBucketTotals
	err := r.q.QueryRow(ctx, query, userRef).Scan(&totals.Available, &totals.Pending, &totals.Expired)
	if err != nil {
		return nil, fmt.Errorf("failed to sum points for %s: %w", userRef, err)
	}
	return &totals, nil
}

// ListByUser returns the user's transactions, newest first
func (r *PointsTransactionRepository) ListByUser(ctx context.Context, userRef string, limit int) ([]*models.PointsTransaction, error) {
	query := `
		SELECT ` + pointsTransactionColumns + `
		FROM points_transactions
		WHERE user_ref = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	txns, err := r.queryTransactions(ctx, query, userRef, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list points transactions for %s: %w", userRef, err)
	}
	return txns, nil
}

package repository

import (
	"context"
	"fmt"
	"time"

	"rewarder/database"
	"rewarder/models"
	"rewarder/service"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const settlementColumns = `id, external_ref, merchant_ref, user_ref, campaign_ref, base_amount, rate::text,
	reward_amount, status, budget_transaction_id, points_transaction_id, last_error, created_at, updated_at`

// SettlementRepository implements the SettlementRepository interface
type SettlementRepository struct {
	q queryable
}

// NewSettlementRepository creates a new settlement repository
func NewSettlementRepository(db *database.DB) *SettlementRepository {
	return &SettlementRepository{q: db.Pool}
}

func newSettlementRepositoryWithTx(tx queryable) *SettlementRepository {
	return &SettlementRepository{q: tx}
}

func scanSettlement(row pgx.Row) (*models.Settlement, error) {
	var s models.Settlement
	var rate string
	err := row.Scan(
		&s.ID,
		&s.ExternalRef,
		&s.MerchantRef,
		&s.UserRef,
		&s.CampaignRef,
		&s.BaseAmount,
		&rate,
		&s.RewardAmount,
		&s.Status,
		&s.BudgetTransactionID,
		&s.PointsTransactionID,
		&s.LastError,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Rate, err = decimal.NewFromString(rate)
	if err != nil {
		return nil, fmt.Errorf("invalid settlement rate %q: %w", rate, err)
	}
	return &s, nil
}

// Create inserts a settlement. A second settlement for the same external
// reference fails with service.ErrDuplicate.
func (r *SettlementRepository) Create(ctx context.Context, s *models.Settlement) error {
	query := `
		INSERT INTO settlements (
			external_ref, merchant_ref, user_ref, campaign_ref, base_amount, rate,
			reward_amount, status, budget_transaction_id, points_transaction_id, last_error
		) VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at
	`

	err := r.q.QueryRow(ctx, query,
		s.ExternalRef,
		s.MerchantRef,
		s.UserRef,
		s.CampaignRef,
		s.BaseAmount,
		s.Rate.String(),
		s.RewardAmount,
		s.Status,
		s.BudgetTransactionID,
		s.PointsTransactionID,
		s.LastError,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	if database.IsUniqueViolation(err) {
		return fmt.Errorf("%w: settlement %s already exists", service.ErrDuplicate, s.ExternalRef)
	}
	if err != nil {
		return fmt.Errorf("failed to create settlement %s: %w", s.ExternalRef, err)
	}
	return nil
}

func (r *SettlementRepository) GetByExternalRef(ctx context.Context, externalRef string) (*models.Settlement, error) {
	query := `SELECT ` + settlementColumns + ` FROM settlements WHERE external_ref = $1`

	s, err := scanSettlement(r.q.QueryRow(ctx, query, externalRef))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settlement %s: %w", externalRef, err)
	}
	return s, nil
}

func (r *SettlementRepository) GetByExternalRefForUpdate(ctx context.Context, externalRef string) (*models.Settlement, error) {
	query := `SELECT ` + settlementColumns + ` FROM settlements WHERE external_ref = $1 FOR UPDATE`

	s, err := scanSettlement(r.q.QueryRow(ctx, query, externalRef))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock settlement %s: %w", externalRef, err)
	}
	return s, nil
}

// Update writes the saga progress columns
func (r *SettlementRepository) Update(ctx context.Context, s *models.Settlement) error {
	query := `
		UPDATE settlements
		SET status = $2, points_transaction_id = $3, last_error = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.q.QueryRow(ctx, query, s.ID, s.Status, s.PointsTransactionID, s.LastError).Scan(&s.UpdatedAt)
	if err == pgx.ErrNoRows {
		return fmt.Errorf("settlement %d not found", s.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to update settlement %s: %w", s.ExternalRef, err)
	}
	return nil
}

// ListStale returns debited settlements untouched since before
func (r *SettlementRepository) ListStale(ctx context.Context, before time.Time, limit int) ([]*models.Settlement, error) {
	query := `
		SELECT ` + settlementColumns + `
		FROM settlements
		WHERE status = 'debited' AND updated_at < $1
		ORDER BY updated_at
		LIMIT $2
	`

	rows, err := r.q.Query(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale settlements: %w", err)
	}
	defer rows.Close()

	var settlements []*models.Settlement
	for rows.Next() {
		s, err := scanSettlement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan settlement: %w", err)
		}
		settlements = append(settlements, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating settlements: %w", err)
	}
	return settlements, nil
}

package repository

import (
	"context"
	"fmt"

	"rewarder/database"
	"rewarder/models"

	"github.com/jackc/pgx/v5"
)

const budgetAccountColumns = `id, merchant_ref, current_balance, total_loaded, total_spent, status, created_at, updated_at`

// BudgetAccountRepository implements the BudgetAccountRepository interface
type BudgetAccountRepository struct {
	q queryable
}

// NewBudgetAccountRepository creates a new budget account repository
func NewBudgetAccountRepository(db *database.DB) *BudgetAccountRepository {
	return &BudgetAccountRepository{q: db.Pool}
}

// newBudgetAccountRepositoryWithTx creates a new budget account repository with a transaction
func newBudgetAccountRepositoryWithTx(tx queryable) *BudgetAccountRepository {
	return &BudgetAccountRepository{q: tx}
}

func scanBudgetAccount(row pgx.Row) (*models.BudgetAccount, error) {
	var account models.BudgetAccount
	err := row.Scan(
		&account.ID,
		&account.MerchantRef,
		&account.CurrentBalance,
		&account.TotalLoaded,
		&account.TotalSpent,
		&account.Status,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// GetByMerchantRef reads an account without locking it
func (r *BudgetAccountRepository) GetByMerchantRef(ctx context.Context, merchantRef string) (*models.BudgetAccount, error) {
	query := `SELECT ` + budgetAccountColumns + ` FROM budget_accounts WHERE merchant_ref = $1`

	account, err := scanBudgetAccount(r.q.QueryRow(ctx, query, merchantRef))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get budget account %s: %w", merchantRef, err)
	}
	return account, nil
}

// GetByMerchantRefForUpdate reads and row-locks an account until the transaction ends
func (r *BudgetAccountRepository) GetByMerchantRefForUpdate(ctx context.Context, merchantRef string) (*models.BudgetAccount, error) {
	query := `SELECT ` + budgetAccountColumns + ` FROM budget_accounts WHERE merchant_ref = $1 FOR UPDATE`

	account, err := scanBudgetAccount(r.q.QueryRow(ctx, query, merchantRef))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock budget account %s: %w", merchantRef, err)
	}
	return account, nil
}

// GetOrCreateForUpdate creates an empty active account when none exists and
// returns it locked. Concurrent creators converge on the same row.
func (r *BudgetAccountRepository) GetOrCreateForUpdate(ctx context.Context, merchantRef string) (*models.BudgetAccount, error) {
	insert := `
		INSERT INTO budget_accounts (merchant_ref)
		VALUES ($1)
		ON CONFLICT (merchant_ref) DO NOTHING
	`
	if _, err := r.q.Exec(ctx, insert, merchantRef); err != nil {
		return nil, fmt.Errorf("failed to create budget account %s: %w", merchantRef, err)
	}

	account, err := r.GetByMerchantRefForUpdate(ctx, merchantRef)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("budget account %s missing after create", merchantRef)
	}
	return account, nil
}

// UpdateBalances writes the three balance columns. The table CHECKs reject
// any write that breaks current = loaded - spent >= 0.
func (r *BudgetAccountRepository) UpdateBalances(ctx context.Context, account *models.BudgetAccount) error {
	query := `
		UPDATE budget_accounts
		SET current_balance = $2, total_loaded = $3, total_spent = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.q.QueryRow(ctx, query,
		account.ID,
		account.CurrentBalance,
		account.TotalLoaded,
		account.TotalSpent,
	).Scan(&account.UpdatedAt)
	if err == pgx.ErrNoRows {
		return fmt.Errorf("budget account %d not found", account.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to update balances for budget account %d: %w", account.ID, err)
	}
	return nil
}

// UpdateStatus changes an account's status
func (r *BudgetAccountRepository) UpdateStatus(ctx context.Context, accountID int64, status models.BudgetAccountStatus) error {
	query := `
		UPDATE budget_accounts
		SET status = $2, updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.q.Exec(ctx, query, accountID, status)
	if err != nil {
		return fmt.Errorf("failed to update status for budget account %d: %w", accountID, err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("budget account %d not found", accountID)
	}
	return nil
}

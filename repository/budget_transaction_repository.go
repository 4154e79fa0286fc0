package repository

import (
	"context"
	"fmt"

	"rewarder/database"
	"rewarder/models"

	"github.com/jackc/pgx/v5"
)

const budgetTransactionColumns = `id, account_id, type, amount, balance_before, balance_after, description, processed_by, external_ref, created_at`

// BudgetTransactionRepository implements the BudgetTransactionRepository interface
type BudgetTransactionRepository struct {
	q queryable
}

// NewBudgetTransactionRepository creates a new budget transaction repository
func NewBudgetTransactionRepository(db *database.DB) *BudgetTransactionRepository {
	return &BudgetTransactionRepository{q: db.Pool}
}

func newBudgetTransactionRepositoryWithTx(tx queryable) *BudgetTransactionRepository {
	return &BudgetTransactionRepository{q: tx}
}

func scanBudgetTransaction(row pgx.Row) (*models.BudgetTransaction, error) {
	var txn models.BudgetTransaction
	err := row.Scan(
		&txn.ID,
		&txn.AccountID,
		&txn.Type,
		&txn.Amount,
		&txn.BalanceBefore,
		&txn.BalanceAfter,
		&txn.Description,
		&txn.ProcessedBy,
		&txn.ExternalRef,
		&txn.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// Record inserts an audit row and fills in its ID and timestamp
func (r *BudgetTransactionRepository) Record(ctx context.Context, txn *models.BudgetTransaction) error {
	query := `
		INSERT INTO budget_transactions (
			account_id, type, amount, balance_before, balance_after,
			description, processed_by, external_ref
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`

	err := r.q.QueryRow(ctx, query,
		txn.AccountID,
		txn.Type,
		txn.Amount,
		txn.BalanceBefore,
		txn.BalanceAfter,
		txn.Description,
		txn.ProcessedBy,
		txn.ExternalRef,
	).Scan(&txn.ID, &txn.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record %s transaction for account %d: %w", txn.Type, txn.AccountID, err)
	}
	return nil
}

// GetByExternalRef finds the transaction of txType tagged with externalRef
func (r *BudgetTransactionRepository) GetByExternalRef(ctx context.Context, externalRef string, txType models.BudgetTransactionType) (*models.BudgetTransaction, error) {
	query := `SELECT ` + budgetTransactionColumns + ` FROM budget_transactions WHERE external_ref = $1 AND type = $2`

	txn, err := scanBudgetTransaction(r.q.QueryRow(ctx, query, externalRef, txType))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s transaction for %s: %w", txType, externalRef, err)
	}
	return txn, nil
}

// ListByAccount returns an account's transactions, newest first
func (r *BudgetTransactionRepository) ListByAccount(ctx context.Context, accountID int64, limit int) ([]*models.BudgetTransaction, error) {
	query := `
		SELECT ` + budgetTransactionColumns + `
		FROM budget_transactions
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.q.Query(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions for account %d: %w", accountID, err)
	}
	defer rows.Close()

	var txns []*models.BudgetTransaction
	for rows.Next() {
		txn, err := scanBudgetTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan budget transaction: %w", err)
		}
		txns = append(txns, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating budget transactions: %w", err)
	}
	return txns, nil
}

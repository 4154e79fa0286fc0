package repository

import (
	"context"
	"fmt"

	"rewarder/database"
	"rewarder/models"

	"github.com/jackc/pgx/v5"
)

const walletBalanceColumns = `id, user_ref, available_balance, pending_balance, total_earned, total_redeemed, total_expired, created_at, updated_at`

// WalletBalanceRepository implements the WalletBalanceRepository interface
type WalletBalanceRepository struct {
	q queryable
}

// NewWalletBalanceRepository creates a new wallet balance repository
func NewWalletBalanceRepository(db *database.DB) *WalletBalanceRepository {
	return &WalletBalanceRepository{q: db.Pool}
}

func newWalletBalanceRepositoryWithTx(tx queryable) *WalletBalanceRepository {
	return &WalletBalanceRepository{q: tx}
}

func scanWalletBalance(row pgx.Row) (*models.WalletBalance, error) {
	var wallet models.WalletBalance
	err := row.Scan(
		&wallet.ID,
		&wallet.UserRef,
		&wallet.AvailableBalance,
		&wallet.PendingBalance,
		&wallet.TotalEarned,
		&wallet.TotalRedeemed,
		&wallet.TotalExpired,
		&wallet.CreatedAt,
		&wallet.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

// GetByUserRef reads a wallet without locking it
func (r *WalletBalanceRepository) GetByUserRef(ctx context.Context, userRef string) (*models.WalletBalance, error) {
	query := `SELECT ` + walletBalanceColumns + ` FROM wallet_balances WHERE user_ref = $1`

	wallet, err := scanWalletBalance(r.q.QueryRow(ctx, query, userRef))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet %s: %w", userRef, err)
	}
	return wallet, nil
}

// GetByUserRefForUpdate reads and row-locks a wallet
func (r *WalletBalanceRepository) GetByUserRefForUpdate(ctx context.Context, userRef string) (*models.WalletBalance, error) {
	query := `SELECT ` + walletBalanceColumns + ` FROM wallet_balances WHERE user_ref = $1 FOR UPDATE`

	wallet, err := scanWalletBalance(r.q.QueryRow(ctx, query, userRef))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock wallet %s: %w", userRef, err)
	}
	return wallet, nil
}

// GetOrCreateForUpdate creates an empty wallet on first use and returns it locked
func (r *WalletBalanceRepository) GetOrCreateForUpdate(ctx context.Context, userRef string) (*models.WalletBalance, error) {
	insert := `
		INSERT INTO wallet_balances (user_ref)
		VALUES ($1)
		ON CONFLICT (user_ref) DO NOTHING
	`
	if _, err := r.q.Exec(ctx, insert, userRef); err != nil {
		return nil, fmt.Errorf("failed to create wallet %s: %w", userRef, err)
	}

	wallet, err := r.GetByUserRefForUpdate(ctx, userRef)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, fmt.Errorf("wallet %s missing after create", userRef)
	}
	return wallet, nil
}

// Update writes every balance column of the wallet
func (r *WalletBalanceRepository) Update(ctx context.Context, wallet *models.WalletBalance) error {
	query := `
		UPDATE wallet_balances
		SET available_balance = $2,
			pending_balance = $3,
			total_earned = $4,
			total_redeemed = $5,
			total_expired = $6,
			updated_at = NOW()
		WHERE user_ref = $1
		RETURNING updated_at
	`

	err := r.q.QueryRow(ctx, query,
		wallet.UserRef,
		wallet.AvailableBalance,
		wallet.PendingBalance,
		wallet.TotalEarned,
		wallet.TotalRedeemed,
		wallet.TotalExpired,
	).Scan(&wallet.UpdatedAt)
	if err == pgx.ErrNoRows {
		return fmt.Errorf("wallet %s not found", wallet.UserRef)
	}
	if err != nil {
		return fmt.Errorf("failed to update wallet %s: %w", wallet.UserRef, err)
	}
	return nil
}

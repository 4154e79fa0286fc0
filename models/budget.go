package models

import "time"

// BudgetAccountStatus represents whether an account may be debited
type BudgetAccountStatus string

const (
	BudgetAccountStatusActive    BudgetAccountStatus = "active"
	BudgetAccountStatusSuspended BudgetAccountStatus = "suspended"
)

// Valid reports whether s is a known account status
func (s BudgetAccountStatus) Valid() bool {
	return s == BudgetAccountStatusActive || s == BudgetAccountStatusSuspended
}

// BudgetAccount is a merchant's cashback funding pool. Amounts are in minor units.
type BudgetAccount struct {
	ID             int64               `db:"id"`
	MerchantRef    string              `db:"merchant_ref"`
	CurrentBalance int64               `db:"current_balance"`
	TotalLoaded    int64               `db:"total_loaded"`
	TotalSpent     int64               `db:"total_spent"`
	Status         BudgetAccountStatus `db:"status"`
	CreatedAt      time.Time           `db:"created_at"`
	UpdatedAt      time.Time           `db:"updated_at"`
}

// IsActive returns true when the account accepts payouts
func (a *BudgetAccount) IsActive() bool {
	return a.Status == BudgetAccountStatusActive
}

// Consistent reports whether current = loaded - spent >= 0 holds
func (a *BudgetAccount) Consistent() bool {
	return a.CurrentBalance >= 0 && a.CurrentBalance == a.TotalLoaded-a.TotalSpent
}

// BudgetTransactionType represents the kind of budget movement
type BudgetTransactionType string

const (
	BudgetTransactionTypeLoad   BudgetTransactionType = "load"
	BudgetTransactionTypePayout BudgetTransactionType = "payout"
	BudgetTransactionTypeRefund BudgetTransactionType = "refund"
)

// BudgetTransaction is an immutable audit row written with every account mutation
type BudgetTransaction struct {
	ID            int64                 `db:"id"`
	AccountID     int64                 `db:"account_id"`
	Type          BudgetTransactionType `db:"type"`
	Amount        int64                 `db:"amount"`
	BalanceBefore int64                 `db:"balance_before"`
	BalanceAfter  int64                 `db:"balance_after"`
	Description   string                `db:"description"`
	ProcessedBy   string                `db:"processed_by"`
	ExternalRef   *string               `db:"external_ref"`
	CreatedAt     time.Time             `db:"created_at"`
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SettlementStatus tracks the saga that links a payout to an earn
type SettlementStatus string

const (
	// SettlementStatusDebited means the budget payout committed and the wallet
	// credit has not been confirmed yet.
	SettlementStatusDebited     SettlementStatus = "debited"
	SettlementStatusCompleted   SettlementStatus = "completed"
	SettlementStatusCompensated SettlementStatus = "compensated"
	SettlementStatusReversed    SettlementStatus = "reversed"
)

// Settlement records one external event converted into ledger movements
type Settlement struct {
	ID                  int64            `db:"id"`
	ExternalRef         string           `db:"external_ref"`
	MerchantRef         string           `db:"merchant_ref"`
	UserRef             string           `db:"user_ref"`
	CampaignRef         string           `db:"campaign_ref"`
	BaseAmount          int64            `db:"base_amount"`
	Rate                decimal.Decimal  `db:"rate"`
	RewardAmount        int64            `db:"reward_amount"`
	Status              SettlementStatus `db:"status"`
	BudgetTransactionID *int64           `db:"budget_transaction_id"`
	PointsTransactionID *int64           `db:"points_transaction_id"`
	LastError           *string          `db:"last_error"`
	CreatedAt           time.Time        `db:"created_at"`
	UpdatedAt           time.Time        `db:"updated_at"`
}

// IsFinal returns true once the saga needs no further action
func (s *Settlement) IsFinal() bool {
	return s.Status != SettlementStatusDebited
}

// SettlementRequest is the intake contract for a qualifying external event
type SettlementRequest struct {
	ExternalRef string
	MerchantRef string
	UserRef     string
	BaseAmount  decimal.Decimal
	CampaignRef string
}

// SettlementResult is the transaction pair produced by a settlement
type SettlementResult struct {
	Settlement *Settlement
	Payout     *BudgetTransaction
	Earn       *PointsTransaction
}

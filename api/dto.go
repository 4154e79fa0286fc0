package api

import (
	"encoding/json"
	"time"

	"rewarder/models"
)

// Amounts cross the wire as decimal strings ("12.50") and are stored in cents.

type settlementRequest struct {
	ExternalRef string `json:"external_ref" binding:"required,ref"`
	MerchantRef string `json:"merchant_ref" binding:"required,ref"`
	UserRef     string `json:"user_ref" binding:"required,ref"`
	BaseAmount  string `json:"base_amount" binding:"required,money"`
	CampaignRef string `json:"campaign_ref" binding:"omitempty,ref"`
}

type verificationRequest struct {
	ExternalRef string `json:"external_ref" binding:"required,ref"`
}

type amountRequest struct {
	Amount string `json:"amount" binding:"required,money"`
	Reason string `json:"reason" binding:"max=255"`
}

type statusRequest struct {
	Status models.BudgetAccountStatus `json:"status" binding:"required,oneof=active suspended"`
}

type settlementResponse struct {
	ExternalRef         string                  `json:"external_ref"`
	MerchantRef         string                  `json:"merchant_ref"`
	UserRef             string                  `json:"user_ref"`
	CampaignRef         string                  `json:"campaign_ref"`
	BaseAmount          string                  `json:"base_amount"`
	Rate                string                  `json:"rate"`
	RewardAmount        string                  `json:"reward_amount"`
	Status              models.SettlementStatus `json:"status"`
	BudgetTransactionID *int64                  `json:"budget_transaction_id,omitempty"`
	PointsTransactionID *int64                  `json:"points_transaction_id,omitempty"`
	LastError           *string                 `json:"last_error,omitempty"`
	CreatedAt           time.Time               `json:"created_at"`
	UpdatedAt           time.Time               `json:"updated_at"`
}

func newSettlementResponse(s *models.Settlement) settlementResponse {
	return settlementResponse{
		ExternalRef:         s.ExternalRef,
		MerchantRef:         s.MerchantRef,
		UserRef:             s.UserRef,
		CampaignRef:         s.CampaignRef,
		BaseAmount:          models.FormatMinorUnits(s.BaseAmount),
		Rate:                s.Rate.String(),
		RewardAmount:        models.FormatMinorUnits(s.RewardAmount),
		Status:              s.Status,
		BudgetTransactionID: s.BudgetTransactionID,
		PointsTransactionID: s.PointsTransactionID,
		LastError:           s.LastError,
		CreatedAt:           s.CreatedAt,
		UpdatedAt:           s.UpdatedAt,
	}
}

type settlementResultResponse struct {
	Settlement settlementResponse         `json:"settlement"`
	Payout     *budgetTransactionResponse `json:"payout,omitempty"`
	Earn       *pointsTransactionResponse `json:"earn,omitempty"`
}

type budgetAccountResponse struct {
	MerchantRef    string                     `json:"merchant_ref"`
	CurrentBalance string                     `json:"current_balance"`
	TotalLoaded    string                     `json:"total_loaded"`
	TotalSpent     string                     `json:"total_spent"`
	Status         models.BudgetAccountStatus `json:"status"`
	UpdatedAt      time.Time                  `json:"updated_at"`
}

func newBudgetAccountResponse(a *models.BudgetAccount) budgetAccountResponse {
	return budgetAccountResponse{
		MerchantRef:    a.MerchantRef,
		CurrentBalance: models.FormatMinorUnits(a.CurrentBalance),
		TotalLoaded:    models.FormatMinorUnits(a.TotalLoaded),
		TotalSpent:     models.FormatMinorUnits(a.TotalSpent),
		Status:         a.Status,
		UpdatedAt:      a.UpdatedAt,
	}
}

type budgetTransactionResponse struct {
	ID            int64                        `json:"id"`
	Type          models.BudgetTransactionType `json:"type"`
	Amount        string                       `json:"amount"`
	BalanceBefore string                       `json:"balance_before"`
	BalanceAfter  string                       `json:"balance_after"`
	Description   string                       `json:"description"`
	ProcessedBy   string                       `json:"processed_by"`
	ExternalRef   *string                      `json:"external_ref,omitempty"`
	CreatedAt     time.Time                    `json:"created_at"`
}

func newBudgetTransactionResponse(t *models.BudgetTransaction) *budgetTransactionResponse {
	if t == nil {
		return nil
	}
	return &budgetTransactionResponse{
		ID:            t.ID,
		Type:          t.Type,
		Amount:        models.FormatMinorUnits(t.Amount),
		BalanceBefore: models.FormatMinorUnits(t.BalanceBefore),
		BalanceAfter:  models.FormatMinorUnits(t.BalanceAfter),
		Description:   t.Description,
		ProcessedBy:   t.ProcessedBy,
		ExternalRef:   t.ExternalRef,
		CreatedAt:     t.CreatedAt,
	}
}

type walletResponse struct {
	UserRef          string `json:"user_ref"`
	AvailableBalance string `json:"available_balance"`
	PendingBalance   string `json:"pending_balance"`
	TotalEarned      string `json:"total_earned"`
	TotalRedeemed    string `json:"total_redeemed"`
	TotalExpired     string `json:"total_expired"`
}

func newWalletResponse(w *models.WalletBalance) walletResponse {
	return walletResponse{
		UserRef:          w.UserRef,
		AvailableBalance: models.FormatMinorUnits(w.AvailableBalance),
		PendingBalance:   models.FormatMinorUnits(w.PendingBalance),
		TotalEarned:      models.FormatMinorUnits(w.TotalEarned),
		TotalRedeemed:    models.FormatMinorUnits(w.TotalRedeemed),
		TotalExpired:     models.FormatMinorUnits(w.TotalExpired),
	}
}

type pointsTransactionResponse struct {
	ID                   int64               `json:"id"`
	Amount               string              `json:"amount"`
	Kind                 models.PointsKind   `json:"kind"`
	Status               models.PointsStatus `json:"status"`
	ExternalRef          *string             `json:"external_ref,omitempty"`
	VerificationDeadline *time.Time          `json:"verification_deadline,omitempty"`
	ExpiresAt            *time.Time          `json:"expires_at,omitempty"`
	CreatedAt            time.Time           `json:"created_at"`
}

func newPointsTransactionResponse(p *models.PointsTransaction) *pointsTransactionResponse {
	if p == nil {
		return nil
	}
	return &pointsTransactionResponse{
		ID:                   p.ID,
		Amount:               models.FormatMinorUnits(p.Amount),
		Kind:                 p.Kind,
		Status:               p.Status,
		ExternalRef:          p.ExternalRef,
		VerificationDeadline: p.VerificationDeadline,
		ExpiresAt:            p.ExpiresAt,
		CreatedAt:            p.CreatedAt,
	}
}

type dueItemResponse struct {
	ID          int64                `json:"id"`
	Kind        models.DueItemKind   `json:"kind"`
	PayloadRef  string               `json:"payload_ref"`
	Payload     json.RawMessage      `json:"payload,omitempty"`
	Status      models.DueItemStatus `json:"status"`
	ScheduledAt time.Time            `json:"scheduled_at"`
	RetryCount  int                  `json:"retry_count"`
	MaxRetries  int                  `json:"max_retries"`
	LastError   *string              `json:"last_error,omitempty"`
	ProcessedAt *time.Time           `json:"processed_at,omitempty"`
}

func newDueItemResponse(d *models.DueItem) dueItemResponse {
	return dueItemResponse{
		ID:          d.ID,
		Kind:        d.Kind,
		PayloadRef:  d.PayloadRef,
		Payload:     d.Payload,
		Status:      d.Status,
		ScheduledAt: d.ScheduledAt,
		RetryCount:  d.RetryCount,
		MaxRetries:  d.MaxRetries,
		LastError:   d.LastError,
		ProcessedAt: d.ProcessedAt,
	}
}

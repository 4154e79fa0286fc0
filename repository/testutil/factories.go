package testutil

import (
	"time"

	"rewarder/models"

	"github.com/shopspring/decimal"
)

// CreateTestCampaign creates an open-ended active campaign that started a day ago
func CreateTestCampaign(merchantRef, campaignRef string, ratePercent string) *models.Campaign {
	return &models.Campaign{
		CampaignRef: campaignRef,
		MerchantRef: merchantRef,
		Rate:        decimal.RequireFromString(ratePercent),
		StartsAt:    time.Now().Add(-24 * time.Hour),
		Active:      true,
	}
}

// CreateTestDueItem creates a pending due item with the default retry budget
func CreateTestDueItem(kind models.DueItemKind, payloadRef string, scheduledAt time.Time) *models.DueItem {
	return &models.DueItem{
		Kind:        kind,
		PayloadRef:  payloadRef,
		ScheduledAt: scheduledAt,
		MaxRetries:  models.DefaultDueItemMaxRetries,
	}
}

// CreateTestBudgetTransaction creates a payout audit row for accountID
func CreateTestBudgetTransaction(accountID int64, amount, balanceBefore int64, externalRef string) *models.BudgetTransaction {
	txn := &models.BudgetTransaction{
		AccountID:     accountID,
		Type:          models.BudgetTransactionTypePayout,
		Amount:        amount,
		BalanceBefore: balanceBefore,
		BalanceAfter:  balanceBefore - amount,
		Description:   "test payout",
		ProcessedBy:   "test",
	}
	if externalRef != "" {
		txn.ExternalRef = &externalRef
	}
	return txn
}

// CreateTestEarn creates a pending earn awaiting verification of externalRef
func CreateTestEarn(userRef string, amount int64, externalRef string, expiresAt *time.Time) *models.PointsTransaction {
	txn := &models.PointsTransaction{
		UserRef:              userRef,
		Amount:               amount,
		Kind:                 models.PointsKindEarn,
		Status:               models.PointsStatusPending,
		VerificationRequired: true,
		ExpiresAt:            expiresAt,
	}
	if externalRef != "" {
		txn.ExternalRef = &externalRef
	}
	return txn
}

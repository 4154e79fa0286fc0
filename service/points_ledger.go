package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"rewarder/database"
	"rewarder/events"
	"rewarder/infrastructure/observability"
	"rewarder/models"

	log "github.com/sirupsen/logrus"
)

const (
	ledgerPoints = "points"

	// sweepBatchSize bounds how many users one sweep query returns
	sweepBatchSize = 500
)

// EarnRequest describes value credited to a user's wallet
type EarnRequest struct {
	UserRef              string
	Amount               int64
	ExternalRef          string
	VerificationRequired bool
	ExpiresAt            *time.Time
}

type pointsLedger struct {
	uowFactory         UnitOfWorkFactory
	verificationWindow time.Duration
	now                func() time.Time
}

// NewPointsLedger creates the user points ledger. Every mutation locks the
// wallet row before the points rows it touches; reads never lock.
func NewPointsLedger(uowFactory UnitOfWorkFactory, verificationWindow time.Duration) PointsLedger {
	return &pointsLedger{
		uowFactory:         uowFactory,
		verificationWindow: verificationWindow,
		now:                time.Now,
	}
}

// Earn credits value to the pending bucket when verification is required and
// to the available bucket otherwise. It does not deduplicate; a second earn
// with the same external reference is rejected by the store as ErrDuplicate.
func (s *pointsLedger) Earn(ctx context.Context, req EarnRequest) (*models.PointsTransaction, error) {
	now := s.now()
	if err := s.validateEarn(req, now); err != nil {
		return nil, err
	}

	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, storeError("failed to begin transaction", err)
	}
	defer uow.Rollback()

	wallet, err := uow.WalletBalanceRepository().GetOrCreateForUpdate(ctx, req.UserRef)
	if err != nil {
		return nil, storeError("failed to lock wallet", err)
	}

	txn := &models.PointsTransaction{
		UserRef:              req.UserRef,
		Amount:               req.Amount,
		Kind:                 models.PointsKindEarn,
		VerificationRequired: req.VerificationRequired,
		ExpiresAt:            req.ExpiresAt,
	}
	if req.ExternalRef != "" {
		ref := req.ExternalRef
		txn.ExternalRef = &ref
	}

	if req.VerificationRequired {
		txn.Status = models.PointsStatusPending
		if s.verificationWindow > 0 {
			deadline := now.Add(s.verificationWindow)
			txn.VerificationDeadline = &deadline
		}
		wallet.PendingBalance += req.Amount
	} else {
		txn.Status = models.PointsStatusAvailable
		txn.ProcessedAt = &now
		wallet.AvailableBalance += req.Amount
	}
	wallet.TotalEarned += req.Amount

	if err := uow.PointsTransactionRepository().Create(ctx, txn); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: earn for %s already exists", ErrDuplicate, req.ExternalRef)
		}
		return nil, storeError("failed to create points transaction", err)
	}
	if err := uow.WalletBalanceRepository().Update(ctx, wallet); err != nil {
		return nil, storeError("failed to update wallet", err)
	}

	if req.ExpiresAt != nil {
		expiry := &models.DueItem{
			Kind:        models.DueItemKindPointsExpiry,
			PayloadRef:  strconv.FormatInt(txn.ID, 10),
			ScheduledAt: *req.ExpiresAt,
			MaxRetries:  models.DefaultDueItemMaxRetries,
		}
		if err := uow.DueItemRepository().Enqueue(ctx, expiry); err != nil {
			return nil, storeError("failed to schedule points expiry", err)
		}
	}

	uow.EventBus().Publish(events.PointsEarnedEvent{
		UserRef:       req.UserRef,
		TransactionID: txn.ID,
		Amount:        req.Amount,
		Status:        txn.Status,
		ExternalRef:   req.ExternalRef,
	})

	if err := uow.Commit(); err != nil {
		return nil, storeError("failed to commit earn", err)
	}

	observability.GetMetrics().RecordLedgerTransaction(ctx, ledgerPoints, string(models.PointsKindEarn), req.Amount)
	log.WithFields(log.Fields{
		"userRef":       req.UserRef,
		"transactionID": txn.ID,
		"amount":        models.FormatMinorUnits(req.Amount),
		"status":        txn.Status,
		"externalRef":   req.ExternalRef,
	}).Info("Points earned")

	return txn, nil
}

func (s *pointsLedger) validateEarn(req EarnRequest, now time.Time) error {
	if strings.TrimSpace(req.UserRef) == "" {
		return validationError("user reference is required")
	}
	if req.Amount <= 0 {
		return validationError("amount must be positive, got %d", req.Amount)
	}
	if req.VerificationRequired && strings.TrimSpace(req.ExternalRef) == "" {
		return validationError("external reference is required when verification is required")
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return validationError("expiry %s is not in the future", req.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

// Redeem spends available value. There are no partial redemptions.
func (s *pointsLedger) Redeem(ctx context.Context, userRef string, amount int64) (*models.PointsTransaction, error) {
	if strings.TrimSpace(userRef) == "" {
		return nil, validationError("user reference is required")
	}
	if amount <= 0 {
		return nil, validationError("amount must be positive, got %d", amount)
	}

	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, storeError("failed to begin transaction", err)
	}
	defer uow.Rollback()

	wallet, err := uow.WalletBalanceRepository().GetByUserRefForUpdate(ctx, userRef)
	if err != nil {
		return nil, storeError("failed to lock wallet", err)
	}
	if wallet == nil || wallet.AvailableBalance < amount {
		available := int64(0)
		if wallet != nil {
			available = wallet.AvailableBalance
		}
		observability.GetMetrics().RecordLedgerRejection(ctx, ledgerPoints, "insufficient_available_balance")
		return nil, fmt.Errorf("%w: available %s, requested %s", ErrInsufficientAvailableBalance,
			models.FormatMinorUnits(available), models.FormatMinorUnits(amount))
	}

	now := s.now()
	txn := &models.PointsTransaction{
		UserRef:     userRef,
		Amount:      -amount,
		Kind:        models.PointsKindRedeem,
		Status:      models.PointsStatusAvailable,
		ProcessedAt: &now,
	}
	if err := uow.PointsTransactionRepository().Create(ctx, txn); err != nil {
		return nil, storeError("failed to create points transaction", err)
	}

	wallet.AvailableBalance -= amount
	wallet.TotalRedeemed += amount
	if err := uow.WalletBalanceRepository().Update(ctx, wallet); err != nil {
		return nil, storeError("failed to update wallet", err)
	}

	uow.EventBus().Publish(events.PointsRedeemedEvent{
		UserRef:          userRef,
		TransactionID:    txn.ID,
		Amount:           amount,
		AvailableBalance: wallet.AvailableBalance,
	})

	if err := uow.Commit(); err != nil {
		return nil, storeError("failed to commit redemption", err)
	}

	observability.GetMetrics().RecordLedgerTransaction(ctx, ledgerPoints, string(models.PointsKindRedeem), amount)
	log.WithFields(log.Fields{
		"userRef":       userRef,
		"transactionID": txn.ID,
		"amount":        models.FormatMinorUnits(amount),
	}).Info("Points redeemed")

	return txn, nil
}

// Verify moves every pending earn for externalRef to the available bucket and
// returns how many rows changed. Repeated calls return zero.
func (s *pointsLedger) Verify(ctx context.Context, externalRef string) (int, error) {
	if strings.TrimSpace(externalRef) == "" {
		return 0, validationError("external reference is required")
	}

	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return 0, storeError("failed to begin transaction", err)
	}
	defer uow.Rollback()

	userRefs, err := uow.PointsTransactionRepository().ListPendingUserRefs(ctx, externalRef)
	if err != nil {
		return 0, storeError("failed to find pending transactions", err)
	}
	if len(userRefs) == 0 {
		return 0, nil
	}
	sort.Strings(userRefs)

	now := s.now()
	updated := 0
	for _, userRef := range userRefs {
		wallet, err := uow.WalletBalanceRepository().GetByUserRefForUpdate(ctx, userRef)
		if err != nil {
			return 0, storeError("failed to lock wallet", err)
		}
		if wallet == nil {
			continue
		}

		// Re-read under the wallet lock; a concurrent verify may have won
		rows, err := uow.PointsTransactionRepository().ListPendingForUpdate(ctx, userRef, externalRef)
		if err != nil {
			return 0, storeError("failed to lock pending transactions", err)
		}
		if len(rows) == 0 {
			continue
		}

		var moved int64
		for _, row := range rows {
			if err := uow.PointsTransactionRepository().UpdateStatus(ctx, row.ID, models.PointsStatusAvailable, now); err != nil {
				return 0, storeError("failed to verify points transaction", err)
			}
			moved += row.Amount
		}

		wallet.PendingBalance -= moved
		wallet.AvailableBalance += moved
		if err := uow.WalletBalanceRepository().Update(ctx, wallet); err != nil {
			return 0, storeError("failed to update wallet", err)
		}

		uow.EventBus().Publish(events.PointsVerifiedEvent{
			UserRef:     userRef,
			ExternalRef: externalRef,
			Amount:      moved,
			Count:       len(rows),
		})
		updated += len(rows)
	}

	if err := uow.Commit(); err != nil {
		return 0, storeError("failed to commit verification", err)
	}

	if updated > 0 {
		log.WithFields(log.Fields{
			"externalRef":  externalRef,
			"updatedCount": updated,
		}).Info("Points verified")
	}
	return updated, nil
}

// SweepExpired expires every earn past its expiry, one user per transaction
func (s *pointsLedger) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	total := 0
	for {
		userRefs, err := s.expiredUserRefs(ctx, now)
		if err != nil {
			return total, err
		}

		expiredThisBatch := 0
		for _, userRef := range userRefs {
			n, err := s.expireForUser(ctx, userRef, now)
			if err != nil {
				return total, fmt.Errorf("failed to expire points for %s: %w", userRef, err)
			}
			expiredThisBatch += n
		}
		total += expiredThisBatch

		if len(userRefs) < sweepBatchSize || expiredThisBatch == 0 {
			break
		}
	}

	if total > 0 {
		log.WithFields(log.Fields{
			"expiredCount": total,
			"asOf":         now.Format(time.RFC3339),
		}).Info("Expired points swept")
	}
	return total, nil
}

func (s *pointsLedger) expiredUserRefs(ctx context.Context, now time.Time) ([]string, error) {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, storeError("failed to begin transaction", err)
	}
	defer uow.Rollback()

	userRefs, err := uow.PointsTransactionRepository().ListExpiredUserRefs(ctx, now, sweepBatchSize)
	if err != nil {
		return nil, storeError("failed to list expired points", err)
	}
	return userRefs, nil
}

func (s *pointsLedger) expireForUser(ctx context.Context, userRef string, now time.Time) (int, error) {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return 0, storeError("failed to begin transaction", err)
	}
	defer uow.Rollback()

	wallet, err := uow.WalletBalanceRepository().GetByUserRefForUpdate(ctx, userRef)
	if err != nil {
		return 0, storeError("failed to lock wallet", err)
	}
	if wallet == nil {
		return 0, nil
	}

	rows, err := uow.PointsTransactionRepository().ListExpiredForUpdate(ctx, userRef, now)
	if err != nil {
		return 0, storeError("failed to lock expired points", err)
	}
	for _, row := range rows {
		if err := s.applyExpiry(ctx, uow, wallet, row, now); err != nil {
			return 0, err
		}
	}
	if len(rows) == 0 {
		return 0, nil
	}

	if err := uow.WalletBalanceRepository().Update(ctx, wallet); err != nil {
		return 0, storeError("failed to update wallet", err)
	}
	if err := uow.Commit(); err != nil {
		return 0, storeError("failed to commit expiry", err)
	}

	for _, row := range rows {
		observability.GetMetrics().RecordLedgerTransaction(ctx, ledgerPoints, string(models.PointsStatusExpired), row.Amount)
	}
	return len(rows), nil
}

// ExpireTransaction expires one earn whose expiry has passed. It returns
// false when the row is gone, already final, or not yet due.
func (s *pointsLedger) ExpireTransaction(ctx context.Context, id int64, now time.Time) (bool, error) {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return false, storeError("failed to begin transaction", err)
	}
	defer uow.Rollback()

	row, err := uow.PointsTransactionRepository().GetByID(ctx, id)
	if err != nil {
		return false, storeError("failed to get points transaction", err)
	}
	if row == nil || !row.IsExpirable() || !row.ExpiredAt(now) {
		return false, nil
	}

	wallet, err := uow.WalletBalanceRepository().GetByUserRefForUpdate(ctx, row.UserRef)
	if err != nil {
		return false, storeError("failed to lock wallet", err)
	}
	if wallet == nil {
		return false, nil
	}

	row, err = uow.PointsTransactionRepository().GetByIDForUpdate(ctx, id)
	if err != nil {
		return false, storeError("failed to lock points transaction", err)
	}
	if row == nil || !row.IsExpirable() || !row.ExpiredAt(now) {
		return false, nil
	}

	if err := s.applyExpiry(ctx, uow, wallet, row, now); err != nil {
		return false, err
	}
	if err := uow.WalletBalanceRepository().Update(ctx, wallet); err != nil {
		return false, storeError("failed to update wallet", err)
	}
	if err := uow.Commit(); err != nil {
		return false, storeError("failed to commit expiry", err)
	}

	observability.GetMetrics().RecordLedgerTransaction(ctx, ledgerPoints, string(models.PointsStatusExpired), row.Amount)
	log.WithFields(log.Fields{
		"userRef":       row.UserRef,
		"transactionID": id,
		"amount":        models.FormatMinorUnits(row.Amount),
	}).Info("Points transaction expired")
	return true, nil
}

// applyExpiry moves row's amount out of its bucket into total_expired.
// The caller holds the wallet and row locks and persists the wallet.
func (s *pointsLedger) applyExpiry(ctx context.Context, uow UnitOfWork, wallet *models.WalletBalance, row *models.PointsTransaction, now time.Time) error {
	fromStatus := row.Status
	switch fromStatus {
	case models.PointsStatusPending:
		wallet.PendingBalance -= row.Amount
	case models.PointsStatusAvailable:
		// Redemptions are separate negative rows, so this can go below zero
		// when part of the earn was already spent.
		wallet.AvailableBalance -= row.Amount
	default:
		return fmt.Errorf("points transaction %d cannot expire from status %s", row.ID, row.Status)
	}
	wallet.TotalExpired += row.Amount

	if err := uow.PointsTransactionRepository().UpdateStatus(ctx, row.ID, models.PointsStatusExpired, now); err != nil {
		return storeError("failed to expire points transaction", err)
	}
	row.Status = models.PointsStatusExpired
	row.ProcessedAt = &now

	uow.EventBus().Publish(events.PointsExpiredEvent{
		UserRef:       row.UserRef,
		TransactionID: row.ID,
		Amount:        row.Amount,
		FromStatus:    fromStatus,
	})
	return nil
}

// CancelPending deletes unverified pending earns for externalRef and returns
// the total amount removed
func (s *pointsLedger) CancelPending(ctx context.Context, externalRef string) (int64, error) {
	if strings.TrimSpace(externalRef) == "" {
		return 0, validationError("external reference is required")
	}

	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return 0, storeError("failed to begin transaction", err)
	}
	defer uow.Rollback()

	userRefs, err := uow.PointsTransactionRepository().ListPendingUserRefs(ctx, externalRef)
	if err != nil {
		return 0, storeError("failed to find pending transactions", err)
	}
	sort.Strings(userRefs)

	var removed int64
	for _, userRef := range userRefs {
		wallet, err := uow.WalletBalanceRepository().GetByUserRefForUpdate(ctx, userRef)
		if err != nil {
			return 0, storeError("failed to lock wallet", err)
		}
		if wallet == nil {
			continue
		}

		rows, err := uow.PointsTransactionRepository().ListPendingForUpdate(ctx, userRef, externalRef)
		if err != nil {
			return 0, storeError("failed to lock pending transactions", err)
		}
		if len(rows) == 0 {
			continue
		}

		for _, row := range rows {
			if err := uow.PointsTransactionRepository().DeletePending(ctx, row.ID); err != nil {
				return 0, storeError("failed to delete pending transaction", err)
			}
			wallet.PendingBalance -= row.Amount
			wallet.TotalEarned -= row.Amount
			removed += row.Amount
		}
		if err := uow.WalletBalanceRepository().Update(ctx, wallet); err != nil {
			return 0, storeError("failed to update wallet", err)
		}
	}

	if err := uow.Commit(); err != nil {
		return 0, storeError("failed to commit cancellation", err)
	}

	if removed > 0 {
		log.WithFields(log.Fields{
			"externalRef": externalRef,
			"amount":      models.FormatMinorUnits(removed),
		}).Info("Pending points cancelled")
	}
	return removed, nil
}

// GetWallet returns the user's wallet. Users that never earned get an empty wallet.
func (s *pointsLedger) GetWallet(ctx context.Context, userRef string) (*models.WalletBalance, error) {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, storeError("failed to begin transaction", err)
	}
	defer uow.Rollback()

	wallet, err := uow.WalletBalanceRepository().GetByUserRef(ctx, userRef)
	if err != nil {
		return nil, storeError("failed to get wallet", err)
	}
	if wallet == nil {
		return &models.WalletBalance{UserRef: userRef}, nil
	}
	return wallet, nil
}

func (s *pointsLedger) ListTransactions(ctx context.Context, userRef string, limit int) ([]*models.PointsTransaction, error) {
	if limit <= 0 {
		limit = 50
	}

	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, storeError("failed to begin transaction", err)
	}
	defer uow.Rollback()

	txns, err := uow.PointsTransactionRepository().ListByUser(ctx, userRef, limit)
	if err != nil {
		return nil, storeError("failed to list points transactions", err)
	}
	return txns, nil
}

// CheckInvariant recomputes the per-bucket sums and compares them with the wallet
func (s *pointsLedger) CheckInvariant(ctx context.Context, userRef string) error {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return storeError("failed to begin transaction", err)
	}
	defer uow.Rollback()

	wallet, err := uow.WalletBalanceRepository().GetByUserRef(ctx, userRef)
	if err != nil {
		return storeError("failed to get wallet", err)
	}
	if wallet == nil {
		wallet = &models.WalletBalance{UserRef: userRef}
	}

	totals, err := uow.PointsTransactionRepository().SumByStatus(ctx, userRef)
	if err != nil {
		return storeError("failed to sum points transactions", err)
	}

	var problems []string
	if wallet.AvailableBalance != totals.Available {
		problems = append(problems, fmt.Sprintf("available %d != rows %d", wallet.AvailableBalance, totals.Available))
	}
	if wallet.PendingBalance != totals.Pending {
		problems = append(problems, fmt.Sprintf("pending %d != rows %d", wallet.PendingBalance, totals.Pending))
	}
	if wallet.TotalExpired != totals.Expired {
		problems = append(problems, fmt.Sprintf("expired %d != rows %d", wallet.TotalExpired, totals.Expired))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: wallet %s: %s", ErrInvariantViolation, userRef, strings.Join(problems, ", "))
	}
	return nil
}

// isDuplicate reports whether err means the earn already exists
func isDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicate)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"rewarder/events"
	"rewarder/infrastructure/observability"
	"rewarder/models"

	log "github.com/sirupsen/logrus"
)

const ledgerBudget = "budget"

type budgetLedger struct {
	uowFactory UnitOfWorkFactory
}

// NewBudgetLedger creates the merchant budget ledger. Operations are never
// retried internally; funds movement must not silently duplicate.
func NewBudgetLedger(uowFactory UnitOfWorkFactory) BudgetLedger {
	return &budgetLedger{uowFactory: uowFactory}
}

func validateBudgetInput(merchantRef string, amount int64) error {
	if strings.TrimSpace(merchantRef) == "" {
		return validationError("merchant reference is required")
	}
	if amount <= 0 {
		return validationError("amount must be positive, got %d", amount)
	}
	return nil
}

// Debit pays amount out of the merchant's budget
func (s *budgetLedger) Debit(ctx context.Context, merchantRef string, amount int64, reason string) (*models.BudgetTransaction, error) {
	if err := validateBudgetInput(merchantRef, amount); err != nil {
		return nil, err
	}

	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, storeError("failed to begin transaction", err)
	}
	defer uow.Rollback() // No-op if already committed

	txn, err := debitAccount(ctx, uow, merchantRef, amount, reason, "")
	if err != nil {
		s.recordRejection(ctx, merchantRef, amount, err)
		return nil, err
	}

	if err := uow.Commit(); err != nil {
		return nil, storeError("failed to commit debit", err)
	}

	s.recordApplied(ctx, merchantRef, txn)
	return txn, nil
}

// Credit loads amount into the merchant's budget, creating the account on first load
func (s *budgetLedger) Credit(ctx context.Context, merchantRef string, amount int64, reason string) (*models.BudgetTransaction, error) {
	if err := validateBudgetInput(merchantRef, amount); err != nil {
		return nil, err
	}

	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, storeError("failed to begin transaction", err)
	}
	defer uow.Rollback()

	account, err := uow.BudgetAccountRepository().GetOrCreateForUpdate(ctx, merchantRef)
	if err != nil {
		return nil, storeError("failed to lock budget account", err)
	}

	before := account.CurrentBalance
	account.CurrentBalance += amount
	account.TotalLoaded += amount

	txn, err := recordBudgetTransaction(ctx, uow, account, models.BudgetTransactionTypeLoad, amount, before, reason, "")
	if err != nil {
		return nil, err
	}

	if err := uow.Commit(); err != nil {
		return nil, storeError("failed to commit credit", err)
	}

	s.recordApplied(ctx, merchantRef, txn)
	return txn, nil
}

// Refund returns previously paid out funds. A non-empty externalRef makes the
// refund idempotent: a second refund for the same reference is ErrDuplicate.
func (s *budgetLedger) Refund(ctx context.Context, merchantRef string, amount int64, reason, externalRef string) (*models.BudgetTransaction, error) {
	if err := validateBudgetInput(merchantRef, amount); err != nil {
		return nil, err
	}

	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, storeError("failed to begin transaction", err)
	}
	defer uow.Rollback()

	txn, err := refundAccount(ctx, uow, merchantRef, amount, reason, externalRef)
	if err != nil {
		s.recordRejection(ctx, merchantRef, amount, err)
		return nil, err
	}

	if err := uow.Commit(); err != nil {
		return nil, storeError("failed to commit refund", err)
	}

	s.recordApplied(ctx, merchantRef, txn)
	return txn, nil
}

// SetStatus suspends or reactivates an account. Suspended accounts reject
// debits but still accept loads and refunds.
func (s *budgetLedger) SetStatus(ctx context.Context, merchantRef string, status models.BudgetAccountStatus) (*models.BudgetAccount, error) {
	if !status.Valid() {
		return nil, validationError("unknown account status %q", status)
	}

	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, storeError("failed to begin transaction", err)
	}
	defer uow.Rollback()

	account, err := uow.BudgetAccountRepository().GetByMerchantRefForUpdate(ctx, merchantRef)
	if err != nil {
		return nil, storeError("failed to lock budget account", err)
	}
	if account == nil {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, merchantRef)
	}
	if account.Status == status {
		return account, nil
	}

	oldStatus := account.Status
	if err := uow.BudgetAccountRepository().UpdateStatus(ctx, account.ID, status); err != nil {
		return nil, storeError("failed to update account status", err)
	}
	account.Status = status

	uow.EventBus().Publish(events.BudgetAccountStatusEvent{
		MerchantRef: merchantRef,
		OldStatus:   oldStatus,
		NewStatus:   status,
	})

	if err := uow.Commit(); err != nil {
		return nil, storeError("failed to commit status change", err)
	}

	log.WithFields(log.Fields{
		"merchantRef": merchantRef,
		"oldStatus":   oldStatus,
		"newStatus":   status,
	}).Info("Budget account status changed")

	return account, nil
}

// GetAccount reads an account without locking it
func (s *budgetLedger) GetAccount(ctx context.Context, merchantRef string) (*models.BudgetAccount, error) {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, storeError("failed to begin transaction", err)
	}
	defer uow.Rollback()

	account, err := uow.BudgetAccountRepository().GetByMerchantRef(ctx, merchantRef)
	if err != nil {
		return nil, storeError("failed to get budget account", err)
	}
	if account == nil {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, merchantRef)
	}
	return account, nil
}

func (s *budgetLedger) ListTransactions(ctx context.Context, merchantRef string, limit int) ([]*models.BudgetTransaction, error) {
	if limit <= 0 {
		limit = 50
	}

	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, storeError("failed to begin transaction", err)
	}
	defer uow.Rollback()

	account, err := uow.BudgetAccountRepository().GetByMerchantRef(ctx, merchantRef)
	if err != nil {
		return nil, storeError("failed to get budget account", err)
	}
	if account == nil {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, merchantRef)
	}

	txns, err := uow.BudgetTransactionRepository().ListByAccount(ctx, account.ID, limit)
	if err != nil {
		return nil, storeError("failed to list budget transactions", err)
	}
	return txns, nil
}

// CheckInvariant verifies current = loaded - spent >= 0 and that the latest
// audit row agrees with the stored balance
func (s *budgetLedger) CheckInvariant(ctx context.Context, merchantRef string) error {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return storeError("failed to begin transaction", err)
	}
	defer uow.Rollback()

	account, err := uow.BudgetAccountRepository().GetByMerchantRef(ctx, merchantRef)
	if err != nil {
		return storeError("failed to get budget account", err)
	}
	if account == nil {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, merchantRef)
	}
	if !account.Consistent() {
		return fmt.Errorf("%w: %s current %d, loaded %d, spent %d", ErrInvariantViolation,
			merchantRef, account.CurrentBalance, account.TotalLoaded, account.TotalSpent)
	}

	latest, err := uow.BudgetTransactionRepository().ListByAccount(ctx, account.ID, 1)
	if err != nil {
		return storeError("failed to list budget transactions", err)
	}
	if len(latest) == 1 && latest[0].BalanceAfter != account.CurrentBalance {
		return fmt.Errorf("%w: %s latest audit row ends at %d, account holds %d", ErrInvariantViolation,
			merchantRef, latest[0].BalanceAfter, account.CurrentBalance)
	}
	return nil
}

func (s *budgetLedger) recordApplied(ctx context.Context, merchantRef string, txn *models.BudgetTransaction) {
	observability.GetMetrics().RecordLedgerTransaction(ctx, ledgerBudget, string(txn.Type), txn.Amount)

	log.WithFields(log.Fields{
		"merchantRef":   merchantRef,
		"transactionID": txn.ID,
		"type":          txn.Type,
		"amount":        models.FormatMinorUnits(txn.Amount),
		"balanceAfter":  models.FormatMinorUnits(txn.BalanceAfter),
	}).Info("Budget transaction applied")
}

func (s *budgetLedger) recordRejection(ctx context.Context, merchantRef string, amount int64, err error) {
	reason := "error"
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		reason = "insufficient_funds"
	case errors.Is(err, ErrAccountInactive):
		reason = "account_inactive"
	case errors.Is(err, ErrAccountNotFound):
		reason = "account_not_found"
	case errors.Is(err, ErrTransient):
		reason = "transient"
	}
	observability.GetMetrics().RecordLedgerRejection(ctx, ledgerBudget, reason)

	log.WithFields(log.Fields{
		"merchantRef": merchantRef,
		"amount":      models.FormatMinorUnits(amount),
		"reason":      reason,
		"error":       err,
	}).Warn("Budget transaction rejected")
}

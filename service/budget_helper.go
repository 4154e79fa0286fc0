package service

import (
	"context"
	"fmt"

	"rewarder/database"
	"rewarder/events"
	"rewarder/models"
)

// recordBudgetTransaction writes the audit row for a mutation already applied
// to account and queues the matching event. Every budget mutation goes
// through here inside the same unit of work as the balance update.
func recordBudgetTransaction(ctx context.Context, uow UnitOfWork, account *models.BudgetAccount, txType models.BudgetTransactionType, amount, balanceBefore int64, reason, externalRef string) (*models.BudgetTransaction, error) {
	txn := &models.BudgetTransaction{
		AccountID:     account.ID,
		Type:          txType,
		Amount:        amount,
		BalanceBefore: balanceBefore,
		BalanceAfter:  account.CurrentBalance,
		Description:   reason,
		ProcessedBy:   ActorFrom(ctx),
	}
	if externalRef != "" {
		ref := externalRef
		txn.ExternalRef = &ref
	}

	if err := uow.BudgetAccountRepository().UpdateBalances(ctx, account); err != nil {
		return nil, storeError("failed to update budget account", err)
	}

	if err := uow.BudgetTransactionRepository().Record(ctx, txn); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s transaction for %s already recorded", ErrDuplicate, txType, externalRef)
		}
		return nil, storeError("failed to record budget transaction", err)
	}

	uow.EventBus().Publish(events.BudgetTransactionEvent{
		MerchantRef:     account.MerchantRef,
		TransactionID:   txn.ID,
		TransactionType: txType,
		Amount:          amount,
		BalanceBefore:   balanceBefore,
		BalanceAfter:    account.CurrentBalance,
		ExternalRef:     externalRef,
	})

	return txn, nil
}

// debitAccount locks the merchant's account and pays amount out of it.
// Callers own the unit of work.
func debitAccount(ctx context.Context, uow UnitOfWork, merchantRef string, amount int64, reason, externalRef string) (*models.BudgetTransaction, error) {
	account, err := uow.BudgetAccountRepository().GetByMerchantRefForUpdate(ctx, merchantRef)
	if err != nil {
		return nil, storeError("failed to lock budget account", err)
	}
	if account == nil {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, merchantRef)
	}
	if !account.IsActive() {
		return nil, fmt.Errorf("%w: %s is %s", ErrAccountInactive, merchantRef, account.Status)
	}
	if account.CurrentBalance < amount {
		return nil, fmt.Errorf("%w: balance %s, requested %s", ErrInsufficientFunds,
			models.FormatMinorUnits(account.CurrentBalance), models.FormatMinorUnits(amount))
	}

	before := account.CurrentBalance
	account.CurrentBalance -= amount
	account.TotalSpent += amount

	return recordBudgetTransaction(ctx, uow, account, models.BudgetTransactionTypePayout, amount, before, reason, externalRef)
}

// refundAccount returns amount to the merchant's account. Suspended accounts
// still accept refunds.
func refundAccount(ctx context.Context, uow UnitOfWork, merchantRef string, amount int64, reason, externalRef string) (*models.BudgetTransaction, error) {
	account, err := uow.BudgetAccountRepository().GetByMerchantRefForUpdate(ctx, merchantRef)
	if err != nil {
		return nil, storeError("failed to lock budget account", err)
	}
	if account == nil {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, merchantRef)
	}
	if amount > account.TotalSpent {
		return nil, validationError("refund of %s exceeds total spent %s",
			models.FormatMinorUnits(amount), models.FormatMinorUnits(account.TotalSpent))
	}

	before := account.CurrentBalance
	account.CurrentBalance += amount
	account.TotalSpent -= amount

	return recordBudgetTransaction(ctx, uow, account, models.BudgetTransactionTypeRefund, amount, before, reason, externalRef)
}

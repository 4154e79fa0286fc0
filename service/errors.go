package service

import (
	"errors"
	"fmt"

	"rewarder/database"
)

// Validation
var ErrValidation = errors.New("validation failed")

// Conflicts. Rejected with no partial effect.
var (
	ErrDuplicate                    = errors.New("duplicate external reference")
	ErrInsufficientFunds            = errors.New("insufficient funds")
	ErrInsufficientAvailableBalance = errors.New("insufficient available balance")
	ErrAccountInactive              = errors.New("budget account is not active")
	ErrAccountNotFound              = errors.New("budget account not found")
	ErrNoActiveCampaign             = errors.New("no active campaign")
	ErrNotReversible                = errors.New("settlement can no longer be reversed")
	ErrSettlementNotFound           = errors.New("settlement not found")
	ErrSettlementInProgress         = errors.New("settlement already in progress")
)

// ErrCreditPending means the merchant was debited but the wallet credit did
// not complete; the settlement reconciler finishes or refunds it
var ErrCreditPending = errors.New("settlement debited, credit pending reconciliation")

// ErrTransient marks failures that are safe to retry as a whole call
var ErrTransient = errors.New("transient store failure")

// ErrInvariantViolation is returned when stored aggregates disagree with their rows
var ErrInvariantViolation = errors.New("ledger invariant violated")

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// storeError wraps a repository error, tagging lock timeouts, deadlocks,
// serialization failures and lost connections as transient.
func storeError(op string, err error) error {
	if database.IsTransientError(err) {
		return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryable reports whether the caller may safely retry the whole call
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrSettlementInProgress)
}

// IsUserFacing reports whether err describes a business outcome the caller
// should see, as opposed to an internal failure
func IsUserFacing(err error) bool {
	for _, target := range []error{
		ErrValidation,
		ErrDuplicate,
		ErrInsufficientFunds,
		ErrInsufficientAvailableBalance,
		ErrAccountInactive,
		ErrAccountNotFound,
		ErrNoActiveCampaign,
		ErrNotReversible,
		ErrSettlementNotFound,
		ErrSettlementInProgress,
		ErrCreditPending,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

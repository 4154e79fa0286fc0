package service

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestStoreError_ClassifiesTransientFailures(t *testing.T) {
	lockTimeout := &pgconn.PgError{Code: "55P03", Message: "canceling statement due to lock timeout"}
	err := storeError("failed to lock account", lockTimeout)

	assert.ErrorIs(t, err, ErrTransient)
	assert.True(t, IsRetryable(err))
	assert.False(t, IsUserFacing(err))

	var pgErr *pgconn.PgError
	assert.True(t, errors.As(err, &pgErr))
}

func TestStoreError_LeavesOtherFailuresAlone(t *testing.T) {
	err := storeError("failed to insert", &pgconn.PgError{Code: "23514"})

	assert.NotErrorIs(t, err, ErrTransient)
	assert.False(t, IsRetryable(err))
}

func TestIsUserFacing(t *testing.T) {
	assert.True(t, IsUserFacing(fmt.Errorf("debit: %w", ErrInsufficientFunds)))
	assert.True(t, IsUserFacing(validationError("amount must be positive")))
	assert.False(t, IsUserFacing(errors.New("connection reset")))
}

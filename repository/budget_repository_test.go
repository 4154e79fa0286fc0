package repository

import (
	"context"
	"testing"

	"rewarder/database"
	"rewarder/models"
	"rewarder/repository/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBudgetAccountRepository_GetOrCreate(t *testing.T) {
	testDB := testutil.SetupTestDatabase(t)
	repo := NewBudgetAccountRepository(testDB.DB)
	ctx := context.Background()

	missing, err := repo.GetByMerchantRef(ctx, "merchant-1")
	require.NoError(t, err)
	assert.Nil(t, missing)

	created, err := repo.GetOrCreateForUpdate(ctx, "merchant-1")
	require.NoError(t, err)
	assert.Equal(t, models.BudgetAccountStatusActive, created.Status)
	assert.Zero(t, created.CurrentBalance)

	again, err := repo.GetOrCreateForUpdate(ctx, "merchant-1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, again.ID)
}

func TestBudgetAccountRepository_BalanceConstraints(t *testing.T) {
	testDB := testutil.SetupTestDatabase(t)
	repo := NewBudgetAccountRepository(testDB.DB)
	ctx := context.Background()

	account, err := repo.GetOrCreateForUpdate(ctx, "merchant-1")
	require.NoError(t, err)

	t.Run("consistent update succeeds", func(t *testing.T) {
		account.TotalLoaded = 10000
		account.TotalSpent = 2500
		account.CurrentBalance = 7500
		require.NoError(t, repo.UpdateBalances(ctx, account))

		stored, err := repo.GetByMerchantRef(ctx, "merchant-1")
		require.NoError(t, err)
		assert.True(t, stored.Consistent())
	})

	t.Run("identity violation is rejected", func(t *testing.T) {
		broken := *account
		broken.CurrentBalance = 9999
		err := repo.UpdateBalances(ctx, &broken)
		assert.True(t, database.IsCheckViolation(err))
	})

	t.Run("negative balance is rejected", func(t *testing.T) {
		broken := *account
		broken.TotalSpent = 10001
		broken.CurrentBalance = -1
		err := repo.UpdateBalances(ctx, &broken)
		assert.True(t, database.IsCheckViolation(err))
	})
}

func TestBudgetTransactionRepository_ExternalRefUnique(t *testing.T) {
	testDB := testutil.SetupTestDatabase(t)
	accounts := NewBudgetAccountRepository(testDB.DB)
	txns := NewBudgetTransactionRepository(testDB.DB)
	ctx := context.Background()

	account, err := accounts.GetOrCreateForUpdate(ctx, "merchant-1")
	require.NoError(t, err)

	payout := testutil.CreateTestBudgetTransaction(account.ID, 500, 10000, "order-1")
	require.NoError(t, txns.Record(ctx, payout))
	assert.NotZero(t, payout.ID)

	err = txns.Record(ctx, testutil.CreateTestBudgetTransaction(account.ID, 500, 9500, "order-1"))
	assert.True(t, database.IsUniqueViolation(err))

	refund := testutil.CreateTestBudgetTransaction(account.ID, 500, 9500, "order-1")
	refund.Type = models.BudgetTransactionTypeRefund
	refund.BalanceAfter = 10000
	require.NoError(t, txns.Record(ctx, refund), "a refund may share the payout's reference")

	found, err := txns.GetByExternalRef(ctx, "order-1", models.BudgetTransactionTypePayout)
	require.NoError(t, err)
	assert.Equal(t, payout.ID, found.ID)

	listed, err := txns.ListByAccount(ctx, account.ID, 10)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, refund.ID, listed[0].ID)
}

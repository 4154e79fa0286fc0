package repository

import (
	"context"
	"testing"
	"time"

	"rewarder/database"
	"rewarder/models"
	"rewarder/repository/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPointsTransactionRepository(t *testing.T) {
	testDB := testutil.SetupTestDatabase(t)
	wallets := NewWalletBalanceRepository(testDB.DB)
	points := NewPointsTransactionRepository(testDB.DB)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := wallets.GetOrCreateForUpdate(ctx, "user-1")
	require.NoError(t, err)

	expired := now.Add(-time.Hour)
	earn := testutil.CreateTestEarn("user-1", 500, "order-1", &expired)
	require.NoError(t, points.Create(ctx, earn))

	later := now.Add(time.Hour)
	require.NoError(t, points.Create(ctx, testutil.CreateTestEarn("user-1", 300, "order-2", &later)))

	t.Run("one earn per reference", func(t *testing.T) {
		err := points.Create(ctx, testutil.CreateTestEarn("user-1", 500, "order-1", nil))
		assert.True(t, database.IsUniqueViolation(err))
	})

	t.Run("pending lookups", func(t *testing.T) {
		userRefs, err := points.ListPendingUserRefs(ctx, "order-1")
		require.NoError(t, err)
		assert.Equal(t, []string{"user-1"}, userRefs)

		found, err := points.GetEarnByExternalRef(ctx, "order-1")
		require.NoError(t, err)
		assert.Equal(t, earn.ID, found.ID)
	})

	t.Run("expiry queries only see past-due earns", func(t *testing.T) {
		userRefs, err := points.ListExpiredUserRefs(ctx, now, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"user-1"}, userRefs)

		rows, err := points.ListExpiredForUpdate(ctx, "user-1", now)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, earn.ID, rows[0].ID)
	})

	t.Run("bucket sums follow status", func(t *testing.T) {
		require.NoError(t, points.UpdateStatus(ctx, earn.ID, models.PointsStatusExpired, now))

		totals, err := points.SumByStatus(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, int64(0), totals.Available)
		assert.Equal(t, int64(300), totals.Pending)
		assert.Equal(t, int64(500), totals.Expired)
	})

	t.Run("only pending rows can be deleted", func(t *testing.T) {
		assert.Error(t, points.DeletePending(ctx, earn.ID))
	})

	t.Run("wallet pending balance cannot go negative", func(t *testing.T) {
		wallet, err := wallets.GetByUserRef(ctx, "user-1")
		require.NoError(t, err)
		wallet.PendingBalance = -1
		assert.True(t, database.IsCheckViolation(wallets.Update(ctx, wallet)))
	})
}

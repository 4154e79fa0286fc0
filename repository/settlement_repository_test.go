package repository

import (
	"context"
	"testing"
	"time"

	"rewarder/models"
	"rewarder/repository/testutil"
	"rewarder/service"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettlementRepository_CreateAndUpdate(t *testing.T) {
	testDB := testutil.SetupTestDatabase(t)
	repo := NewSettlementRepository(testDB.DB)
	ctx := context.Background()

	settlement := &models.Settlement{
		ExternalRef:  "order-1",
		MerchantRef:  "merchant-1",
		UserRef:      "user-1",
		CampaignRef:  "spring",
		BaseAmount:   5000,
		Rate:         decimal.RequireFromString("12.5"),
		RewardAmount: 625,
		Status:       models.SettlementStatusDebited,
	}
	require.NoError(t, repo.Create(ctx, settlement))
	assert.NotZero(t, settlement.ID)

	t.Run("rate round-trips exactly", func(t *testing.T) {
		stored, err := repo.GetByExternalRef(ctx, "order-1")
		require.NoError(t, err)
		assert.True(t, decimal.RequireFromString("12.5").Equal(stored.Rate))
	})

	t.Run("duplicate reference", func(t *testing.T) {
		dup := *settlement
		err := repo.Create(ctx, &dup)
		assert.ErrorIs(t, err, service.ErrDuplicate)
	})

	t.Run("stale debited settlements", func(t *testing.T) {
		stale, err := repo.ListStale(ctx, time.Now().Add(time.Minute), 10)
		require.NoError(t, err)
		require.Len(t, stale, 1)

		earnID := int64(7)
		settlement.Status = models.SettlementStatusCompleted
		settlement.PointsTransactionID = &earnID
		require.NoError(t, repo.Update(ctx, settlement))

		stale, err = repo.ListStale(ctx, time.Now().Add(time.Minute), 10)
		require.NoError(t, err)
		assert.Empty(t, stale)
	})
}

func TestCampaignRepository_FindForMerchant(t *testing.T) {
	testDB := testutil.SetupTestDatabase(t)
	repo := NewCampaignRepository(testDB.DB)
	ctx := context.Background()
	now := time.Now()

	old := testutil.CreateTestCampaign("merchant-1", "winter", "5")
	old.StartsAt = now.Add(-30 * 24 * time.Hour)
	require.NoError(t, repo.Create(ctx, old))

	current := testutil.CreateTestCampaign("merchant-1", "spring", "10")
	require.NoError(t, repo.Create(ctx, current))

	ended := testutil.CreateTestCampaign("merchant-1", "autumn", "20")
	endsAt := now.Add(-time.Hour)
	ended.StartsAt = now.Add(-48 * time.Hour)
	ended.EndsAt = &endsAt
	require.NoError(t, repo.Create(ctx, ended))

	found, err := repo.FindForMerchant(ctx, "merchant-1", "", now)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "spring", found.CampaignRef)
	assert.True(t, decimal.NewFromInt(10).Equal(found.Rate))

	named, err := repo.FindForMerchant(ctx, "merchant-1", "autumn", now)
	require.NoError(t, err)
	require.NotNil(t, named)
	assert.False(t, named.ActiveAt(now))

	none, err := repo.FindForMerchant(ctx, "merchant-2", "", now)
	require.NoError(t, err)
	assert.Nil(t, none)
}

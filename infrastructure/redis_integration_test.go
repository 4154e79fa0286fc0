package infrastructure

import (
	"context"
	"sync"
	"testing"
	"time"

	"rewarder/models"
	"rewarder/service"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestCachedCampaignResolver(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()
	now := time.Now().UTC()

	campaign := &models.Campaign{
		ID:          1,
		CampaignRef: "spring",
		MerchantRef: "merchant-1",
		Rate:        decimal.RequireFromString("12.5"),
		StartsAt:    now.Add(-time.Hour),
		Active:      true,
	}

	next := new(service.MockCampaignResolver)
	next.On("Resolve", mock.Anything, "merchant-1", "", mock.Anything).Return(campaign, nil).Once()

	resolver := NewCachedCampaignResolver(next, client, time.Minute)

	first, err := resolver.Resolve(ctx, "merchant-1", "", now)
	require.NoError(t, err)
	second, err := resolver.Resolve(ctx, "merchant-1", "", now)
	require.NoError(t, err)

	assert.True(t, first.Rate.Equal(second.Rate))
	assert.Equal(t, "spring", second.CampaignRef)
	next.AssertNumberOfCalls(t, "Resolve", 1)

	t.Run("cached campaign outside its window goes to the store", func(t *testing.T) {
		next.On("Resolve", mock.Anything, "merchant-1", "", mock.Anything).Return(nil, nil).Once()

		result, err := resolver.Resolve(ctx, "merchant-1", "", now.Add(-2*time.Hour))
		require.NoError(t, err)
		assert.Nil(t, result)
		next.AssertNumberOfCalls(t, "Resolve", 2)
	})

	t.Run("invalidate", func(t *testing.T) {
		require.NoError(t, resolver.Invalidate(ctx, "merchant-1", ""))
		next.On("Resolve", mock.Anything, "merchant-1", "", mock.Anything).Return(campaign, nil).Once()

		_, err := resolver.Resolve(ctx, "merchant-1", "", now)
		require.NoError(t, err)
		next.AssertNumberOfCalls(t, "Resolve", 3)
	})
}

func TestRedisSettlementGuard(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()
	guard := NewRedisSettlementGuard(client)

	release, err := guard.Acquire(ctx, "order-1")
	require.NoError(t, err)

	_, err = guard.Acquire(ctx, "order-1")
	assert.ErrorIs(t, err, service.ErrSettlementInProgress)

	other, err := guard.Acquire(ctx, "order-2")
	require.NoError(t, err)
	other()

	release()
	again, err := guard.Acquire(ctx, "order-1")
	require.NoError(t, err)
	again()
}

func TestRedisSettlementGuard_OneWinnerUnderContention(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()
	guard := NewRedisSettlementGuard(client)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var releases []func()
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if release, err := guard.Acquire(ctx, "order-1"); err == nil {
				mu.Lock()
				releases = append(releases, release)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, releases, 1)
	for _, release := range releases {
		release()
	}
}

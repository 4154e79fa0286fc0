package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"rewarder/events"
	"rewarder/models"
	"rewarder/repository"
	"rewarder/repository/testutil"
	"rewarder/service"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ledgerFixture struct {
	budget     service.BudgetLedger
	points     service.PointsLedger
	settlement service.SettlementService
	campaigns  *repository.CampaignRepository
	dueItems   *repository.DueItemRepository
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	testDB := testutil.SetupTestDatabase(t)
	bus := events.NewBus()
	uowFactory := repository.NewUnitOfWorkFactory(testDB.DB, bus)

	campaigns := repository.NewCampaignRepository(testDB.DB)
	points := service.NewPointsLedger(uowFactory, 7*24*time.Hour)
	config := service.DefaultSettlementConfig()
	config.CreditBackoff = time.Millisecond

	return &ledgerFixture{
		budget:     service.NewBudgetLedger(uowFactory),
		points:     points,
		settlement: service.NewSettlementService(uowFactory, uowFactory, points, service.NewCampaignResolver(campaigns), nil, config),
		campaigns:  campaigns,
		dueItems:   repository.NewDueItemRepository(testDB.DB),
	}
}

func TestBudgetLedger_BoundaryDebit(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	_, err := f.budget.Credit(ctx, "merchant-1", 10000, "initial load")
	require.NoError(t, err)

	_, err = f.budget.Debit(ctx, "merchant-1", 10001, "one cent over")
	assert.ErrorIs(t, err, service.ErrInsufficientFunds)

	_, err = f.budget.Debit(ctx, "merchant-1", 10000, "exact balance")
	require.NoError(t, err)

	account, err := f.budget.GetAccount(ctx, "merchant-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), account.CurrentBalance)
	assert.NoError(t, f.budget.CheckInvariant(ctx, "merchant-1"))
}

func TestBudgetLedger_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	_, err := f.budget.Credit(ctx, "merchant-1", 1000, "initial load")
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.budget.Debit(ctx, "merchant-1", 100, "concurrent"); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	account, err := f.budget.GetAccount(ctx, "merchant-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), account.CurrentBalance)
	assert.NoError(t, f.budget.CheckInvariant(ctx, "merchant-1"))
}

func TestSettlement_EndToEnd(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	_, err := f.budget.Credit(ctx, "merchant-1", 10000, "initial load")
	require.NoError(t, err)
	require.NoError(t, f.campaigns.Create(ctx, testutil.CreateTestCampaign("merchant-1", "spring", "10")))

	req := models.SettlementRequest{
		ExternalRef: "order-1",
		MerchantRef: "merchant-1",
		UserRef:     "user-1",
		BaseAmount:  decimal.RequireFromString("50.00"),
	}

	result, err := f.settlement.Settle(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, models.SettlementStatusCompleted, result.Settlement.Status)
	assert.Equal(t, int64(500), result.Earn.Amount)
	assert.Equal(t, models.PointsStatusPending, result.Earn.Status)

	account, err := f.budget.GetAccount(ctx, "merchant-1")
	require.NoError(t, err)
	assert.Equal(t, int64(9500), account.CurrentBalance)

	wallet, err := f.points.GetWallet(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), wallet.PendingBalance)
	assert.Equal(t, int64(0), wallet.AvailableBalance)

	t.Run("resubmission is rejected without effect", func(t *testing.T) {
		_, err := f.settlement.Settle(ctx, req)
		assert.ErrorIs(t, err, service.ErrDuplicate)

		account, err := f.budget.GetAccount(ctx, "merchant-1")
		require.NoError(t, err)
		assert.Equal(t, int64(9500), account.CurrentBalance)
	})

	t.Run("verification is idempotent", func(t *testing.T) {
		count, err := f.points.Verify(ctx, "order-1")
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		count, err = f.points.Verify(ctx, "order-1")
		require.NoError(t, err)
		assert.Equal(t, 0, count)

		wallet, err := f.points.GetWallet(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, int64(0), wallet.PendingBalance)
		assert.Equal(t, int64(500), wallet.AvailableBalance)
	})

	t.Run("verified settlement cannot be reversed", func(t *testing.T) {
		_, err := f.settlement.Reverse(ctx, "order-1")
		assert.ErrorIs(t, err, service.ErrNotReversible)
	})

	t.Run("redemption", func(t *testing.T) {
		_, err := f.points.Redeem(ctx, "user-1", 501)
		assert.ErrorIs(t, err, service.ErrInsufficientAvailableBalance)

		_, err = f.points.Redeem(ctx, "user-1", 200)
		require.NoError(t, err)
	})

	assert.NoError(t, f.budget.CheckInvariant(ctx, "merchant-1"))
	assert.NoError(t, f.points.CheckInvariant(ctx, "user-1"))

	counts, err := f.dueItems.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts[models.DueItemStatusPending], "reconcile, reminder and expiry items")
}

func TestSettlement_ReverseRefundsPendingEarn(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	_, err := f.budget.Credit(ctx, "merchant-1", 10000, "initial load")
	require.NoError(t, err)
	require.NoError(t, f.campaigns.Create(ctx, testutil.CreateTestCampaign("merchant-1", "spring", "10")))

	_, err = f.settlement.Settle(ctx, models.SettlementRequest{
		ExternalRef: "order-9",
		MerchantRef: "merchant-1",
		UserRef:     "user-9",
		BaseAmount:  decimal.RequireFromString("20.00"),
	})
	require.NoError(t, err)

	reversed, err := f.settlement.Reverse(ctx, "order-9")
	require.NoError(t, err)
	assert.Equal(t, models.SettlementStatusReversed, reversed.Status)

	again, err := f.settlement.Reverse(ctx, "order-9")
	require.NoError(t, err)
	assert.Equal(t, models.SettlementStatusReversed, again.Status)

	account, err := f.budget.GetAccount(ctx, "merchant-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10000), account.CurrentBalance)

	wallet, err := f.points.GetWallet(ctx, "user-9")
	require.NoError(t, err)
	assert.Equal(t, int64(0), wallet.PendingBalance)
	assert.NoError(t, f.points.CheckInvariant(ctx, "user-9"))
	assert.NoError(t, f.budget.CheckInvariant(ctx, "merchant-1"))
}

func TestPointsLedger_SweepExpired(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	soon := time.Now().Add(time.Second)
	_, err := f.points.Earn(ctx, service.EarnRequest{UserRef: "user-1", Amount: 400, ExpiresAt: &soon})
	require.NoError(t, err)
	_, err = f.points.Earn(ctx, service.EarnRequest{
		UserRef:              "user-1",
		Amount:               100,
		ExternalRef:          "order-1",
		VerificationRequired: true,
		ExpiresAt:            &soon,
	})
	require.NoError(t, err)

	later := soon.Add(time.Minute)
	expired, err := f.points.SweepExpired(ctx, later)
	require.NoError(t, err)
	assert.Equal(t, 2, expired)

	expired, err = f.points.SweepExpired(ctx, later)
	require.NoError(t, err)
	assert.Equal(t, 0, expired)

	wallet, err := f.points.GetWallet(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), wallet.AvailableBalance)
	assert.Equal(t, int64(0), wallet.PendingBalance)
	assert.Equal(t, int64(500), wallet.TotalExpired)
	assert.NoError(t, f.points.CheckInvariant(ctx, "user-1"))
}

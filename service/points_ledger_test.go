package service

import (
	"context"
	"testing"
	"time"

	"rewarder/events"
	"rewarder/models"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type walletMocks struct {
	factory  *MockUnitOfWorkFactory
	uow      *MockUnitOfWork
	wallets  *MockWalletBalanceRepository
	points   *MockPointsTransactionRepository
	dueItems *MockDueItemRepository
}

func newWalletMocks() *walletMocks {
	m := &walletMocks{
		factory:  new(MockUnitOfWorkFactory),
		uow:      NewMockUnitOfWork(),
		wallets:  new(MockWalletBalanceRepository),
		points:   new(MockPointsTransactionRepository),
		dueItems: new(MockDueItemRepository),
	}
	m.uow.SetWalletRepositories(m.wallets, m.points, m.dueItems)
	m.factory.On("Create").Return(m.uow)
	return m
}

func (m *walletMocks) assertExpectations(t *testing.T) {
	m.factory.AssertExpectations(t)
	m.uow.AssertExpectations(t)
	m.wallets.AssertExpectations(t)
	m.points.AssertExpectations(t)
	m.dueItems.AssertExpectations(t)
}

func newTestPointsLedger(factory UnitOfWorkFactory) *pointsLedger {
	ledger := NewPointsLedger(factory, 7*24*time.Hour).(*pointsLedger)
	ledger.now = func() time.Time { return fixedNow }
	return ledger
}

func TestPointsLedger_Earn_PendingWithExpiry(t *testing.T) {
	ctx := context.Background()
	m := newWalletMocks()
	ledger := newTestPointsLedger(m.factory)

	expiresAt := fixedNow.Add(90 * 24 * time.Hour)
	wallet := &models.WalletBalance{ID: 1, UserRef: "user-1"}

	m.uow.On("Begin", ctx).Return(nil)
	m.uow.On("Commit").Return(nil)
	m.uow.On("Rollback").Return(nil)
	m.wallets.On("GetOrCreateForUpdate", ctx, "user-1").Return(wallet, nil)
	m.points.On("Create", ctx, mock.MatchedBy(func(txn *models.PointsTransaction) bool {
		return txn.Status == models.PointsStatusPending &&
			txn.Kind == models.PointsKindEarn &&
			txn.Amount == 500 &&
			txn.VerificationRequired &&
			txn.VerificationDeadline != nil && txn.VerificationDeadline.Equal(fixedNow.Add(7*24*time.Hour)) &&
			txn.ProcessedAt == nil
	})).Run(func(args mock.Arguments) {
		args.Get(1).(*models.PointsTransaction).ID = 77
	}).Return(nil)
	m.wallets.On("Update", ctx, mock.MatchedBy(func(w *models.WalletBalance) bool {
		return w.PendingBalance == 500 && w.AvailableBalance == 0 && w.TotalEarned == 500
	})).Return(nil)
	m.dueItems.On("Enqueue", ctx, mock.MatchedBy(func(item *models.DueItem) bool {
		return item.Kind == models.DueItemKindPointsExpiry &&
			item.PayloadRef == "77" &&
			item.ScheduledAt.Equal(expiresAt) &&
			item.MaxRetries == models.DefaultDueItemMaxRetries
	})).Return(nil)

	txn, err := ledger.Earn(ctx, EarnRequest{
		UserRef:              "user-1",
		Amount:               500,
		ExternalRef:          "order-1",
		VerificationRequired: true,
		ExpiresAt:            &expiresAt,
	})

	require.NoError(t, err)
	assert.Equal(t, int64(77), txn.ID)
	assert.Equal(t, "order-1", *txn.ExternalRef)

	published := m.uow.PublishedEvents()
	require.Len(t, published, 1)
	assert.Equal(t, events.EventTypePointsEarned, published[0].Type())

	m.assertExpectations(t)
}

func TestPointsLedger_Earn_WithoutVerificationIsAvailable(t *testing.T) {
	ctx := context.Background()
	m := newWalletMocks()
	ledger := newTestPointsLedger(m.factory)

	m.uow.On("Begin", ctx).Return(nil)
	m.uow.On("Commit").Return(nil)
	m.uow.On("Rollback").Return(nil)
	m.wallets.On("GetOrCreateForUpdate", ctx, "user-1").Return(&models.WalletBalance{UserRef: "user-1"}, nil)
	m.points.On("Create", ctx, mock.MatchedBy(func(txn *models.PointsTransaction) bool {
		return txn.Status == models.PointsStatusAvailable && txn.ProcessedAt != nil && txn.ExternalRef == nil
	})).Return(nil)
	m.wallets.On("Update", ctx, mock.MatchedBy(func(w *models.WalletBalance) bool {
		return w.AvailableBalance == 250 && w.PendingBalance == 0
	})).Return(nil)

	_, err := ledger.Earn(ctx, EarnRequest{UserRef: "user-1", Amount: 250})

	require.NoError(t, err)
	m.dueItems.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
	m.assertExpectations(t)
}

func TestPointsLedger_Earn_Validation(t *testing.T) {
	ctx := context.Background()
	factory := new(MockUnitOfWorkFactory)
	ledger := newTestPointsLedger(factory)

	past := fixedNow.Add(-time.Minute)
	cases := []EarnRequest{
		{UserRef: "", Amount: 100},
		{UserRef: "user-1", Amount: 0},
		{UserRef: "user-1", Amount: 100, VerificationRequired: true},
		{UserRef: "user-1", Amount: 100, ExpiresAt: &past},
	}
	for _, req := range cases {
		_, err := ledger.Earn(ctx, req)
		assert.ErrorIs(t, err, ErrValidation)
	}
	factory.AssertNotCalled(t, "Create")
}

func TestPointsLedger_Earn_DuplicateExternalRef(t *testing.T) {
	ctx := context.Background()
	m := newWalletMocks()
	ledger := newTestPointsLedger(m.factory)

	m.uow.On("Begin", ctx).Return(nil)
	m.uow.On("Rollback").Return(nil)
	m.wallets.On("GetOrCreateForUpdate", ctx, "user-1").Return(&models.WalletBalance{UserRef: "user-1"}, nil)
	m.points.On("Create", ctx, mock.Anything).Return(&pgconn.PgError{Code: "23505"})

	_, err := ledger.Earn(ctx, EarnRequest{
		UserRef:              "user-1",
		Amount:               500,
		ExternalRef:          "order-1",
		VerificationRequired: true,
	})

	assert.ErrorIs(t, err, ErrDuplicate)
	m.uow.AssertNotCalled(t, "Commit")
	m.assertExpectations(t)
}

func TestPointsLedger_Redeem_InsufficientAvailable(t *testing.T) {
	ctx := context.Background()
	m := newWalletMocks()
	ledger := newTestPointsLedger(m.factory)

	m.uow.On("Begin", ctx).Return(nil)
	m.uow.On("Rollback").Return(nil)
	m.wallets.On("GetByUserRefForUpdate", ctx, "user-1").Return(&models.WalletBalance{
		UserRef:          "user-1",
		AvailableBalance: 100,
		PendingBalance:   5000,
	}, nil)

	_, err := ledger.Redeem(ctx, "user-1", 200)

	assert.ErrorIs(t, err, ErrInsufficientAvailableBalance)
	m.points.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	m.assertExpectations(t)
}

func TestPointsLedger_Redeem_Success(t *testing.T) {
	ctx := context.Background()
	m := newWalletMocks()
	ledger := newTestPointsLedger(m.factory)

	m.uow.On("Begin", ctx).Return(nil)
	m.uow.On("Commit").Return(nil)
	m.uow.On("Rollback").Return(nil)
	m.wallets.On("GetByUserRefForUpdate", ctx, "user-1").Return(&models.WalletBalance{
		UserRef:          "user-1",
		AvailableBalance: 500,
		TotalEarned:      500,
	}, nil)
	m.points.On("Create", ctx, mock.MatchedBy(func(txn *models.PointsTransaction) bool {
		return txn.Kind == models.PointsKindRedeem && txn.Amount == -200 && txn.Status == models.PointsStatusAvailable
	})).Return(nil)
	m.wallets.On("Update", ctx, mock.MatchedBy(func(w *models.WalletBalance) bool {
		return w.AvailableBalance == 300 && w.TotalRedeemed == 200
	})).Return(nil)

	txn, err := ledger.Redeem(ctx, "user-1", 200)

	require.NoError(t, err)
	assert.Equal(t, int64(-200), txn.Amount)
	m.assertExpectations(t)
}

func TestPointsLedger_Verify_MovesPendingToAvailable(t *testing.T) {
	ctx := context.Background()
	m := newWalletMocks()
	ledger := newTestPointsLedger(m.factory)

	ref := "order-1"
	pending := &models.PointsTransaction{
		ID:          77,
		UserRef:     "user-1",
		Amount:      500,
		Kind:        models.PointsKindEarn,
		Status:      models.PointsStatusPending,
		ExternalRef: &ref,
	}

	m.uow.On("Begin", ctx).Return(nil)
	m.uow.On("Commit").Return(nil)
	m.uow.On("Rollback").Return(nil)
	m.points.On("ListPendingUserRefs", ctx, "order-1").Return([]string{"user-1"}, nil)
	m.wallets.On("GetByUserRefForUpdate", ctx, "user-1").Return(&models.WalletBalance{
		UserRef:        "user-1",
		PendingBalance: 500,
		TotalEarned:    500,
	}, nil)
	m.points.On("ListPendingForUpdate", ctx, "user-1", "order-1").Return([]*models.PointsTransaction{pending}, nil)
	m.points.On("UpdateStatus", ctx, int64(77), models.PointsStatusAvailable, fixedNow).Return(nil)
	m.wallets.On("Update", ctx, mock.MatchedBy(func(w *models.WalletBalance) bool {
		return w.PendingBalance == 0 && w.AvailableBalance == 500
	})).Return(nil)

	count, err := ledger.Verify(ctx, "order-1")

	require.NoError(t, err)
	assert.Equal(t, 1, count)
	m.assertExpectations(t)
}

func TestPointsLedger_Verify_SecondCallIsNoop(t *testing.T) {
	ctx := context.Background()
	m := newWalletMocks()
	ledger := newTestPointsLedger(m.factory)

	m.uow.On("Begin", ctx).Return(nil)
	m.uow.On("Rollback").Return(nil)
	m.points.On("ListPendingUserRefs", ctx, "order-1").Return([]string{}, nil)

	count, err := ledger.Verify(ctx, "order-1")

	require.NoError(t, err)
	assert.Equal(t, 0, count)
	m.uow.AssertNotCalled(t, "Commit")
	m.assertExpectations(t)
}

func TestPointsLedger_ExpireTransaction_AvailableRow(t *testing.T) {
	ctx := context.Background()
	m := newWalletMocks()
	ledger := newTestPointsLedger(m.factory)

	expiredAt := fixedNow.Add(-time.Hour)
	row := func() *models.PointsTransaction {
		return &models.PointsTransaction{
			ID:        77,
			UserRef:   "user-1",
			Amount:    500,
			Kind:      models.PointsKindEarn,
			Status:    models.PointsStatusAvailable,
			ExpiresAt: &expiredAt,
		}
	}

	m.uow.On("Begin", ctx).Return(nil)
	m.uow.On("Commit").Return(nil)
	m.uow.On("Rollback").Return(nil)
	m.points.On("GetByID", ctx, int64(77)).Return(row(), nil)
	m.wallets.On("GetByUserRefForUpdate", ctx, "user-1").Return(&models.WalletBalance{
		UserRef:          "user-1",
		AvailableBalance: 500,
		TotalEarned:      500,
	}, nil)
	m.points.On("GetByIDForUpdate", ctx, int64(77)).Return(row(), nil)
	m.points.On("UpdateStatus", ctx, int64(77), models.PointsStatusExpired, fixedNow).Return(nil)
	m.wallets.On("Update", ctx, mock.MatchedBy(func(w *models.WalletBalance) bool {
		return w.AvailableBalance == 0 && w.TotalExpired == 500
	})).Return(nil)

	expired, err := ledger.ExpireTransaction(ctx, 77, fixedNow)

	require.NoError(t, err)
	assert.True(t, expired)
	require.Len(t, m.uow.PublishedEvents(), 1)
	assert.Equal(t, events.EventTypePointsExpired, m.uow.PublishedEvents()[0].Type())
	m.assertExpectations(t)
}

func TestPointsLedger_ExpireTransaction_PartlyRedeemedEarn(t *testing.T) {
	ctx := context.Background()
	m := newWalletMocks()
	ledger := newTestPointsLedger(m.factory)

	expiredAt := fixedNow.Add(-time.Hour)
	row := func() *models.PointsTransaction {
		return &models.PointsTransaction{
			ID:        77,
			UserRef:   "user-1",
			Amount:    1000,
			Kind:      models.PointsKindEarn,
			Status:    models.PointsStatusAvailable,
			ExpiresAt: &expiredAt,
		}
	}

	m.uow.On("Begin", ctx).Return(nil)
	m.uow.On("Commit").Return(nil)
	m.uow.On("Rollback").Return(nil)
	m.points.On("GetByID", ctx, int64(77)).Return(row(), nil)
	m.wallets.On("GetByUserRefForUpdate", ctx, "user-1").Return(&models.WalletBalance{
		UserRef:          "user-1",
		AvailableBalance: 200,
		TotalEarned:      1000,
		TotalRedeemed:    800,
	}, nil)
	m.points.On("GetByIDForUpdate", ctx, int64(77)).Return(row(), nil)
	m.points.On("UpdateStatus", ctx, int64(77), models.PointsStatusExpired, fixedNow).Return(nil)
	m.wallets.On("Update", ctx, mock.MatchedBy(func(w *models.WalletBalance) bool {
		// available = sum of available rows: only the -800 redemption is left
		return w.AvailableBalance == -800 && w.TotalExpired == 1000 && w.TotalRedeemed == 800
	})).Return(nil)

	expired, err := ledger.ExpireTransaction(ctx, 77, fixedNow)

	require.NoError(t, err)
	assert.True(t, expired)
	m.assertExpectations(t)
}

func TestPointsLedger_ExpireTransaction_NotYetDue(t *testing.T) {
	ctx := context.Background()
	m := newWalletMocks()
	ledger := newTestPointsLedger(m.factory)

	later := fixedNow.Add(time.Hour)
	m.uow.On("Begin", ctx).Return(nil)
	m.uow.On("Rollback").Return(nil)
	m.points.On("GetByID", ctx, int64(77)).Return(&models.PointsTransaction{
		ID:        77,
		UserRef:   "user-1",
		Amount:    500,
		Kind:      models.PointsKindEarn,
		Status:    models.PointsStatusPending,
		ExpiresAt: &later,
	}, nil)

	expired, err := ledger.ExpireTransaction(ctx, 77, fixedNow)

	require.NoError(t, err)
	assert.False(t, expired)
	m.wallets.AssertNotCalled(t, "GetByUserRefForUpdate", mock.Anything, mock.Anything)
	m.assertExpectations(t)
}

func TestPointsLedger_CheckInvariant(t *testing.T) {
	ctx := context.Background()
	m := newWalletMocks()
	ledger := newTestPointsLedger(m.factory)

	m.uow.On("Begin", ctx).Return(nil)
	m.uow.On("Rollback").Return(nil)
	m.wallets.On("GetByUserRef", ctx, "user-1").Return(&models.WalletBalance{
		UserRef:          "user-1",
		AvailableBalance: 500,
		PendingBalance:   100,
	}, nil)
	m.points.On("SumByStatus", ctx, "user-1").Return(&models.PointsBucketTotals{Available: 500, Pending: 0}, nil)

	err := ledger.CheckInvariant(ctx, "user-1")

	assert.ErrorIs(t, err, ErrInvariantViolation)
	assert.Contains(t, err.Error(), "pending 100 != rows 0")
	m.assertExpectations(t)
}

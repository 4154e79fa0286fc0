package service

import (
	"context"
	"testing"

	"rewarder/events"
	"rewarder/models"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type budgetMocks struct {
	factory  *MockUnitOfWorkFactory
	uow      *MockUnitOfWork
	accounts *MockBudgetAccountRepository
	txns     *MockBudgetTransactionRepository
}

func newBudgetMocks() *budgetMocks {
	m := &budgetMocks{
		factory:  new(MockUnitOfWorkFactory),
		uow:      NewMockUnitOfWork(),
		accounts: new(MockBudgetAccountRepository),
		txns:     new(MockBudgetTransactionRepository),
	}
	m.uow.SetBudgetRepositories(m.accounts, m.txns, nil, nil)
	m.factory.On("Create").Return(m.uow)
	return m
}

func (m *budgetMocks) assertExpectations(t *testing.T) {
	m.factory.AssertExpectations(t)
	m.uow.AssertExpectations(t)
	m.accounts.AssertExpectations(t)
	m.txns.AssertExpectations(t)
}

func activeAccount(balance int64) *models.BudgetAccount {
	return &models.BudgetAccount{
		ID:             1,
		MerchantRef:    "merchant-1",
		CurrentBalance: balance,
		TotalLoaded:    balance,
		Status:         models.BudgetAccountStatusActive,
	}
}

func TestBudgetLedger_Debit_Success(t *testing.T) {
	ctx := context.Background()
	m := newBudgetMocks()
	ledger := NewBudgetLedger(m.factory)

	account := activeAccount(10000)

	m.uow.On("Begin", ctx).Return(nil)
	m.uow.On("Commit").Return(nil)
	m.uow.On("Rollback").Return(nil)
	m.accounts.On("GetByMerchantRefForUpdate", ctx, "merchant-1").Return(account, nil)
	m.accounts.On("UpdateBalances", ctx, mock.MatchedBy(func(a *models.BudgetAccount) bool {
		return a.CurrentBalance == 9500 && a.TotalSpent == 500 && a.TotalLoaded == 10000
	})).Return(nil)
	m.txns.On("Record", ctx, mock.MatchedBy(func(txn *models.BudgetTransaction) bool {
		return txn.Type == models.BudgetTransactionTypePayout &&
			txn.Amount == 500 &&
			txn.BalanceBefore == 10000 &&
			txn.BalanceAfter == 9500 &&
			txn.ProcessedBy == DefaultActor &&
			txn.ExternalRef == nil
	})).Run(func(args mock.Arguments) {
		args.Get(1).(*models.BudgetTransaction).ID = 42
	}).Return(nil)

	txn, err := ledger.Debit(ctx, "merchant-1", 500, "manual payout")

	require.NoError(t, err)
	assert.Equal(t, int64(42), txn.ID)
	assert.Equal(t, int64(9500), txn.BalanceAfter)
	assert.True(t, account.Consistent())

	published := m.uow.PublishedEvents()
	require.Len(t, published, 1)
	assert.Equal(t, events.EventTypeBudgetTransaction, published[0].Type())

	m.assertExpectations(t)
}

func TestBudgetLedger_Debit_ExactBalanceLeavesZero(t *testing.T) {
	ctx := context.Background()
	m := newBudgetMocks()
	ledger := NewBudgetLedger(m.factory)

	m.uow.On("Begin", ctx).Return(nil)
	m.uow.On("Commit").Return(nil)
	m.uow.On("Rollback").Return(nil)
	m.accounts.On("GetByMerchantRefForUpdate", ctx, "merchant-1").Return(activeAccount(10000), nil)
	m.accounts.On("UpdateBalances", ctx, mock.MatchedBy(func(a *models.BudgetAccount) bool {
		return a.CurrentBalance == 0 && a.TotalSpent == 10000
	})).Return(nil)
	m.txns.On("Record", ctx, mock.AnythingOfType("*models.BudgetTransaction")).Return(nil)

	txn, err := ledger.Debit(ctx, "merchant-1", 10000, "drain")

	require.NoError(t, err)
	assert.Equal(t, int64(0), txn.BalanceAfter)
	m.assertExpectations(t)
}

func TestBudgetLedger_Debit_OneCentOverBalance(t *testing.T) {
	ctx := context.Background()
	m := newBudgetMocks()
	ledger := NewBudgetLedger(m.factory)

	m.uow.On("Begin", ctx).Return(nil)
	m.uow.On("Rollback").Return(nil)
	m.accounts.On("GetByMerchantRefForUpdate", ctx, "merchant-1").Return(activeAccount(10000), nil)

	txn, err := ledger.Debit(ctx, "merchant-1", 10001, "too much")

	assert.Nil(t, txn)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.True(t, IsUserFacing(err))
	m.accounts.AssertNotCalled(t, "UpdateBalances", mock.Anything, mock.Anything)
	m.txns.AssertNotCalled(t, "Record", mock.Anything, mock.Anything)
	m.uow.AssertNotCalled(t, "Commit")
	m.assertExpectations(t)
}

func TestBudgetLedger_Debit_SuspendedAccount(t *testing.T) {
	ctx := context.Background()
	m := newBudgetMocks()
	ledger := NewBudgetLedger(m.factory)

	account := activeAccount(10000)
	account.Status = models.BudgetAccountStatusSuspended

	m.uow.On("Begin", ctx).Return(nil)
	m.uow.On("Rollback").Return(nil)
	m.accounts.On("GetByMerchantRefForUpdate", ctx, "merchant-1").Return(account, nil)

	_, err := ledger.Debit(ctx, "merchant-1", 100, "payout")

	assert.ErrorIs(t, err, ErrAccountInactive)
	m.uow.AssertNotCalled(t, "Commit")
	m.assertExpectations(t)
}

func TestBudgetLedger_Debit_UnknownAccount(t *testing.T) {
	ctx := context.Background()
	m := newBudgetMocks()
	ledger := NewBudgetLedger(m.factory)

	m.uow.On("Begin", ctx).Return(nil)
	m.uow.On("Rollback").Return(nil)
	m.accounts.On("GetByMerchantRefForUpdate", ctx, "merchant-9").Return(nil, nil)

	_, err := ledger.Debit(ctx, "merchant-9", 100, "payout")

	assert.ErrorIs(t, err, ErrAccountNotFound)
	m.assertExpectations(t)
}

func TestBudgetLedger_Debit_LockTimeoutIsTransient(t *testing.T) {
	ctx := context.Background()
	m := newBudgetMocks()
	ledger := NewBudgetLedger(m.factory)

	m.uow.On("Begin", ctx).Return(nil)
	m.uow.On("Rollback").Return(nil)
	m.accounts.On("GetByMerchantRefForUpdate", ctx, "merchant-1").
		Return(nil, &pgconn.PgError{Code: "55P03", Message: "canceling statement due to lock timeout"})

	_, err := ledger.Debit(ctx, "merchant-1", 100, "payout")

	assert.ErrorIs(t, err, ErrTransient)
	assert.True(t, IsRetryable(err))
	assert.False(t, IsUserFacing(err))
	m.assertExpectations(t)
}

func TestBudgetLedger_Debit_RejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	m := new(MockUnitOfWorkFactory)
	ledger := NewBudgetLedger(m)

	_, err := ledger.Debit(ctx, "merchant-1", 0, "zero")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = ledger.Debit(ctx, " ", 100, "no merchant")
	assert.ErrorIs(t, err, ErrValidation)

	m.AssertNotCalled(t, "Create")
}

func TestBudgetLedger_Credit_CreatesAccountLazily(t *testing.T) {
	ctx := WithActor(context.Background(), "ops@example.com")
	m := newBudgetMocks()
	ledger := NewBudgetLedger(m.factory)

	fresh := &models.BudgetAccount{ID: 5, MerchantRef: "merchant-new", Status: models.BudgetAccountStatusActive}

	m.uow.On("Begin", ctx).Return(nil)
	m.uow.On("Commit").Return(nil)
	m.uow.On("Rollback").Return(nil)
	m.accounts.On("GetOrCreateForUpdate", ctx, "merchant-new").Return(fresh, nil)
	m.accounts.On("UpdateBalances", ctx, mock.MatchedBy(func(a *models.BudgetAccount) bool {
		return a.CurrentBalance == 10000 && a.TotalLoaded == 10000 && a.TotalSpent == 0
	})).Return(nil)
	m.txns.On("Record", ctx, mock.MatchedBy(func(txn *models.BudgetTransaction) bool {
		return txn.Type == models.BudgetTransactionTypeLoad &&
			txn.BalanceBefore == 0 &&
			txn.BalanceAfter == 10000 &&
			txn.ProcessedBy == "ops@example.com"
	})).Return(nil)

	txn, err := ledger.Credit(ctx, "merchant-new", 10000, "initial load")

	require.NoError(t, err)
	assert.Equal(t, models.BudgetTransactionTypeLoad, txn.Type)
	m.assertExpectations(t)
}

func TestBudgetLedger_Refund_CannotExceedSpent(t *testing.T) {
	ctx := context.Background()
	m := newBudgetMocks()
	ledger := NewBudgetLedger(m.factory)

	account := activeAccount(9500)
	account.TotalLoaded = 10000
	account.TotalSpent = 500

	m.uow.On("Begin", ctx).Return(nil)
	m.uow.On("Rollback").Return(nil)
	m.accounts.On("GetByMerchantRefForUpdate", ctx, "merchant-1").Return(account, nil)

	_, err := ledger.Refund(ctx, "merchant-1", 600, "refund", "order-1")

	assert.ErrorIs(t, err, ErrValidation)
	m.uow.AssertNotCalled(t, "Commit")
	m.assertExpectations(t)
}

func TestBudgetLedger_Refund_RestoresBalance(t *testing.T) {
	ctx := context.Background()
	m := newBudgetMocks()
	ledger := NewBudgetLedger(m.factory)

	account := activeAccount(9500)
	account.TotalLoaded = 10000
	account.TotalSpent = 500
	account.Status = models.BudgetAccountStatusSuspended

	m.uow.On("Begin", ctx).Return(nil)
	m.uow.On("Commit").Return(nil)
	m.uow.On("Rollback").Return(nil)
	m.accounts.On("GetByMerchantRefForUpdate", ctx, "merchant-1").Return(account, nil)
	m.accounts.On("UpdateBalances", ctx, mock.MatchedBy(func(a *models.BudgetAccount) bool {
		return a.CurrentBalance == 10000 && a.TotalSpent == 0
	})).Return(nil)
	m.txns.On("Record", ctx, mock.MatchedBy(func(txn *models.BudgetTransaction) bool {
		return txn.Type == models.BudgetTransactionTypeRefund &&
			txn.ExternalRef != nil && *txn.ExternalRef == "order-1"
	})).Return(nil)

	txn, err := ledger.Refund(ctx, "merchant-1", 500, "refund", "order-1")

	require.NoError(t, err)
	assert.Equal(t, int64(10000), txn.BalanceAfter)
	m.assertExpectations(t)
}

func TestBudgetLedger_SetStatus_Suspend(t *testing.T) {
	ctx := context.Background()
	m := newBudgetMocks()
	ledger := NewBudgetLedger(m.factory)

	m.uow.On("Begin", ctx).Return(nil)
	m.uow.On("Commit").Return(nil)
	m.uow.On("Rollback").Return(nil)
	m.accounts.On("GetByMerchantRefForUpdate", ctx, "merchant-1").Return(activeAccount(100), nil)
	m.accounts.On("UpdateStatus", ctx, int64(1), models.BudgetAccountStatusSuspended).Return(nil)

	account, err := ledger.SetStatus(ctx, "merchant-1", models.BudgetAccountStatusSuspended)

	require.NoError(t, err)
	assert.Equal(t, models.BudgetAccountStatusSuspended, account.Status)
	require.Len(t, m.uow.PublishedEvents(), 1)
	m.assertExpectations(t)

	_, err = ledger.SetStatus(ctx, "merchant-1", models.BudgetAccountStatus("closed"))
	assert.ErrorIs(t, err, ErrValidation)
}

func TestBudgetLedger_CheckInvariant(t *testing.T) {
	ctx := context.Background()
	m := newBudgetMocks()
	ledger := NewBudgetLedger(m.factory)

	broken := activeAccount(100)
	broken.TotalSpent = 50

	m.uow.On("Begin", ctx).Return(nil)
	m.uow.On("Rollback").Return(nil)
	m.accounts.On("GetByMerchantRef", ctx, "merchant-1").Return(broken, nil)

	err := ledger.CheckInvariant(ctx, "merchant-1")
	assert.ErrorIs(t, err, ErrInvariantViolation)
	m.assertExpectations(t)
}

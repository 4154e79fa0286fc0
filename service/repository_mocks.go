package service

import (
	"context"
	"time"

	"rewarder/events"
	"rewarder/models"

	"github.com/stretchr/testify/mock"
)

// MockBudgetAccountRepository is a mock implementation of BudgetAccountRepository
type MockBudgetAccountRepository struct {
	mock.Mock
}

func (m *MockBudgetAccountRepository) GetByMerchantRef(ctx context.Context, merchantRef string) (*models.BudgetAccount, error) {
	args := m.Called(ctx, merchantRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.BudgetAccount), args.Error(1)
}

func (m *MockBudgetAccountRepository) GetByMerchantRefForUpdate(ctx context.Context, merchantRef string) (*models.BudgetAccount, error) {
	args := m.Called(ctx, merchantRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.BudgetAccount), args.Error(1)
}

func (m *MockBudgetAccountRepository) GetOrCreateForUpdate(ctx context.Context, merchantRef string) (*models.BudgetAccount, error) {
	args := m.Called(ctx, merchantRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.BudgetAccount), args.Error(1)
}

func (m *MockBudgetAccountRepository) UpdateBalances(ctx context.Context, account *models.BudgetAccount) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

func (m *MockBudgetAccountRepository) UpdateStatus(ctx context.Context, accountID int64, status models.BudgetAccountStatus) error {
	args := m.Called(ctx, accountID, status)
	return args.Error(0)
}

// MockBudgetTransactionRepository is a mock implementation of BudgetTransactionRepository
type MockBudgetTransactionRepository struct {
	mock.Mock
}

func (m *MockBudgetTransactionRepository) Record(ctx context.Context, txn *models.BudgetTransaction) error {
	args := m.Called(ctx, txn)
	return args.Error(0)
}

func (m *MockBudgetTransactionRepository) GetByExternalRef(ctx context.Context, externalRef string, txType models.BudgetTransactionType) (*models.BudgetTransaction, error) {
	args := m.Called(ctx, externalRef, txType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.BudgetTransaction), args.Error(1)
}

func (m *MockBudgetTransactionRepository) ListByAccount(ctx context.Context, accountID int64, limit int) ([]*models.BudgetTransaction, error) {
	args := m.Called(ctx, accountID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.BudgetTransaction), args.Error(1)
}

// MockWalletBalanceRepository is a mock implementation of WalletBalanceRepository
type MockWalletBalanceRepository struct {
	mock.Mock
}

func (m *MockWalletBalanceRepository) GetByUserRef(ctx context.Context, userRef string) (*models.WalletBalance, error) {
	args := m.Called(ctx, userRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.WalletBalance), args.Error(1)
}

func (m *MockWalletBalanceRepository) GetByUserRefForUpdate(ctx context.Context, userRef string) (*models.WalletBalance, error) {
	args := m.Called(ctx, userRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.WalletBalance), args.Error(1)
}

func (m *MockWalletBalanceRepository) GetOrCreateForUpdate(ctx context.Context, userRef string) (*models.WalletBalance, error) {
	args := m.Called(ctx, userRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.WalletBalance), args.Error(1)
}

func (m *MockWalletBalanceRepository) Update(ctx context.Context, wallet *models.WalletBalance) error {
	args := m.Called(ctx, wallet)
	return args.Error(0)
}

// MockPointsTransactionRepository is a mock implementation of PointsTransactionRepository
type MockPointsTransactionRepository struct {
	mock.Mock
}

func (m *MockPointsTransactionRepository) Create(ctx context.Context, txn *models.PointsTransaction) error {
	args := m.Called(ctx, txn)
	return args.Error(0)
}

func (m *MockPointsTransactionRepository) GetByID(ctx context.Context, id int64) (*models.PointsTransaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PointsTransaction), args.Error(1)
}

func (m *MockPointsTransactionRepository) GetByIDForUpdate(ctx context.Context, id int64) (*models.PointsTransaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PointsTransaction), args.Error(1)
}

func (m *MockPointsTransactionRepository) GetEarnByExternalRef(ctx context.Context, externalRef string) (*models.PointsTransaction, error) {
	args := m.Called(ctx, externalRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PointsTransaction), args.Error(1)
}

func (m *MockPointsTransactionRepository) ListPendingUserRefs(ctx context.Context, externalRef string) ([]string, error) {
	args := m.Called(ctx, externalRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockPointsTransactionRepository) ListPendingForUpdate(ctx context.Context, userRef, externalRef string) ([]*models.PointsTransaction, error) {
	args := m.Called(ctx, userRef, externalRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.PointsTransaction), args.Error(1)
}

func (m *MockPointsTransactionRepository) ListExpiredUserRefs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockPointsTransactionRepository) ListExpiredForUpdate(ctx context.Context, userRef string, now time.Time) ([]*models.PointsTransaction, error) {
	args := m.Called(ctx, userRef, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.PointsTransaction), args.Error(1)
}

func (m *MockPointsTransactionRepository) UpdateStatus(ctx context.Context, id int64, status models.PointsStatus, processedAt time.Time) error {
	args := m.Called(ctx, id, status, processedAt)
	return args.Error(0)
}

func (m *MockPointsTransactionRepository) DeletePending(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockPointsTransactionRepository) SumByStatus(ctx context.Context, userRef string) (*models.PointsBucketTotals, error) {
	args := m.Called(ctx, userRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PointsBucketTotals), args.Error(1)
}

func (m *MockPointsTransactionRepository) ListByUser(ctx context.Context, userRef string, limit int) ([]*models.PointsTransaction, error) {
	args := m.Called(ctx, userRef, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.PointsTransaction), args.Error(1)
}

// MockDueItemRepository is a mock implementation of DueItemRepository
type MockDueItemRepository struct {
	mock.Mock
}

func (m *MockDueItemRepository) Enqueue(ctx context.Context, item *models.DueItem) error {
	args := m.Called(ctx, item)
	return args.Error(0)
}

func (m *MockDueItemRepository) EnsureRecurring(ctx context.Context, kind models.DueItemKind, payloadRef string, interval time.Duration, now time.Time) (bool, error) {
	args := m.Called(ctx, kind, payloadRef, interval, now)
	return args.Bool(0), args.Error(1)
}

func (m *MockDueItemRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*models.DueItem, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.DueItem), args.Error(1)
}

func (m *MockDueItemRepository) MarkSent(ctx context.Context, id int64, processedAt time.Time) error {
	args := m.Called(ctx, id, processedAt)
	return args.Error(0)
}

func (m *MockDueItemRepository) MarkRetry(ctx context.Context, id int64, retryCount int, lastError string) error {
	args := m.Called(ctx, id, retryCount, lastError)
	return args.Error(0)
}

func (m *MockDueItemRepository) MarkFailed(ctx context.Context, id int64, retryCount int, lastError string, processedAt time.Time) error {
	args := m.Called(ctx, id, retryCount, lastError, processedAt)
	return args.Error(0)
}

func (m *MockDueItemRepository) GetByID(ctx context.Context, id int64) (*models.DueItem, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.DueItem), args.Error(1)
}

func (m *MockDueItemRepository) ListFailed(ctx context.Context, limit int) ([]*models.DueItem, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.DueItem), args.Error(1)
}

func (m *MockDueItemRepository) Requeue(ctx context.Context, id int64, scheduledAt time.Time) (*models.DueItem, error) {
	args := m.Called(ctx, id, scheduledAt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.DueItem), args.Error(1)
}

func (m *MockDueItemRepository) CountByStatus(ctx context.Context) (map[models.DueItemStatus]int64, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[models.DueItemStatus]int64), args.Error(1)
}

// MockSettlementRepository is a mock implementation of SettlementRepository
type MockSettlementRepository struct {
	mock.Mock
}

func (m *MockSettlementRepository) Create(ctx context.Context, settlement *models.Settlement) error {
	args := m.Called(ctx, settlement)
	return args.Error(0)
}

func (m *MockSettlementRepository) GetByExternalRef(ctx context.Context, externalRef string) (*models.Settlement, error) {
	args := m.Called(ctx, externalRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Settlement), args.Error(1)
}

func (m *MockSettlementRepository) GetByExternalRefForUpdate(ctx context.Context, externalRef string) (*models.Settlement, error) {
	args := m.Called(ctx, externalRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Settlement), args.Error(1)
}

func (m *MockSettlementRepository) Update(ctx context.Context, settlement *models.Settlement) error {
	args := m.Called(ctx, settlement)
	return args.Error(0)
}

func (m *MockSettlementRepository) ListStale(ctx context.Context, before time.Time, limit int) ([]*models.Settlement, error) {
	args := m.Called(ctx, before, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Settlement), args.Error(1)
}

// MockCampaignResolver is a mock implementation of CampaignResolver
type MockCampaignResolver struct {
	mock.Mock
}

func (m *MockCampaignResolver) Resolve(ctx context.Context, merchantRef, campaignRef string, at time.Time) (*models.Campaign, error) {
	args := m.Called(ctx, merchantRef, campaignRef, at)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Campaign), args.Error(1)
}

// MockPointsLedger is a mock implementation of PointsLedger
type MockPointsLedger struct {
	mock.Mock
}

func (m *MockPointsLedger) Earn(ctx context.Context, req EarnRequest) (*models.PointsTransaction, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PointsTransaction), args.Error(1)
}

func (m *MockPointsLedger) Redeem(ctx context.Context, userRef string, amount int64) (*models.PointsTransaction, error) {
	args := m.Called(ctx, userRef, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PointsTransaction), args.Error(1)
}

func (m *MockPointsLedger) Verify(ctx context.Context, externalRef string) (int, error) {
	args := m.Called(ctx, externalRef)
	return args.Int(0), args.Error(1)
}

func (m *MockPointsLedger) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	args := m.Called(ctx, now)
	return args.Int(0), args.Error(1)
}

func (m *MockPointsLedger) ExpireTransaction(ctx context.Context, id int64, now time.Time) (bool, error) {
	args := m.Called(ctx, id, now)
	return args.Bool(0), args.Error(1)
}

func (m *MockPointsLedger) CancelPending(ctx context.Context, externalRef string) (int64, error) {
	args := m.Called(ctx, externalRef)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockPointsLedger) GetWallet(ctx context.Context, userRef string) (*models.WalletBalance, error) {
	args := m.Called(ctx, userRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.WalletBalance), args.Error(1)
}

func (m *MockPointsLedger) ListTransactions(ctx context.Context, userRef string, limit int) ([]*models.PointsTransaction, error) {
	args := m.Called(ctx, userRef, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.PointsTransaction), args.Error(1)
}

func (m *MockPointsLedger) CheckInvariant(ctx context.Context, userRef string) error {
	args := m.Called(ctx, userRef)
	return args.Error(0)
}

// MockEventPublisher records published events
type MockEventPublisher struct {
	Events []events.Event
}

func (m *MockEventPublisher) Publish(event events.Event) {
	m.Events = append(m.Events, event)
}

// MockUnitOfWork is a mock implementation of UnitOfWork
type MockUnitOfWork struct {
	mock.Mock
	budgetAccountRepo     BudgetAccountRepository
	budgetTransactionRepo BudgetTransactionRepository
	walletBalanceRepo     WalletBalanceRepository
	pointsTransactionRepo PointsTransactionRepository
	dueItemRepo           DueItemRepository
	settlementRepo        SettlementRepository
	eventBus              *MockEventPublisher
}

// NewMockUnitOfWork creates a mock unit of work with an event recorder attached
func NewMockUnitOfWork() *MockUnitOfWork {
	return &MockUnitOfWork{eventBus: &MockEventPublisher{}}
}

// SetBudgetRepositories wires the budget store repositories
func (m *MockUnitOfWork) SetBudgetRepositories(accounts BudgetAccountRepository, txns BudgetTransactionRepository, settlements SettlementRepository, dueItems DueItemRepository) {
	m.budgetAccountRepo = accounts
	m.budgetTransactionRepo = txns
	m.settlementRepo = settlements
	m.dueItemRepo = dueItems
}

// SetWalletRepositories wires the wallet store repositories
func (m *MockUnitOfWork) SetWalletRepositories(wallets WalletBalanceRepository, points PointsTransactionRepository, dueItems DueItemRepository) {
	m.walletBalanceRepo = wallets
	m.pointsTransactionRepo = points
	m.dueItemRepo = dueItems
}

func (m *MockUnitOfWork) Begin(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockUnitOfWork) Commit() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockUnitOfWork) Rollback() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockUnitOfWork) BudgetAccountRepository() BudgetAccountRepository {
	return m.budgetAccountRepo
}

func (m *MockUnitOfWork) BudgetTransactionRepository() BudgetTransactionRepository {
	return m.budgetTransactionRepo
}

func (m *MockUnitOfWork) WalletBalanceRepository() WalletBalanceRepository {
	return m.walletBalanceRepo
}

func (m *MockUnitOfWork) PointsTransactionRepository() PointsTransactionRepository {
	return m.pointsTransactionRepo
}

func (m *MockUnitOfWork) DueItemRepository() DueItemRepository {
	return m.dueItemRepo
}

func (m *MockUnitOfWork) SettlementRepository() SettlementRepository {
	return m.settlementRepo
}

func (m *MockUnitOfWork) EventBus() EventPublisher {
	if m.eventBus == nil {
		m.eventBus = &MockEventPublisher{}
	}
	return m.eventBus
}

// PublishedEvents returns the events published through this unit of work
func (m *MockUnitOfWork) PublishedEvents() []events.Event {
	if m.eventBus == nil {
		return nil
	}
	return m.eventBus.Events
}

// MockUnitOfWorkFactory is a mock implementation of UnitOfWorkFactory
type MockUnitOfWorkFactory struct {
	mock.Mock
}

func (m *MockUnitOfWorkFactory) Create() UnitOfWork {
	args := m.Called()
	return args.Get(0).(UnitOfWork)
}

// MockBudgetLedger is a mock implementation of BudgetLedger
type MockBudgetLedger struct {
	mock.Mock
}

func (m *MockBudgetLedger) Debit(ctx context.Context, merchantRef string, amount int64, reason string) (*models.BudgetTransaction, error) {
	args := m.Called(ctx, merchantRef, amount, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.BudgetTransaction), args.Error(1)
}

func (m *MockBudgetLedger) Credit(ctx context.Context, merchantRef string, amount int64, reason string) (*models.BudgetTransaction, error) {
	args := m.Called(ctx, merchantRef, amount, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.BudgetTransaction), args.Error(1)
}

func (m *MockBudgetLedger) Refund(ctx context.Context, merchantRef string, amount int64, reason, externalRef string) (*models.BudgetTransaction, error) {
	args := m.Called(ctx, merchantRef, amount, reason, externalRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.BudgetTransaction), args.Error(1)
}

func (m *MockBudgetLedger) SetStatus(ctx context.Context, merchantRef string, status models.BudgetAccountStatus) (*models.BudgetAccount, error) {
	args := m.Called(ctx, merchantRef, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.BudgetAccount), args.Error(1)
}

func (m *MockBudgetLedger) GetAccount(ctx context.Context, merchantRef string) (*models.BudgetAccount, error) {
	args := m.Called(ctx, merchantRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.BudgetAccount), args.Error(1)
}

func (m *MockBudgetLedger) ListTransactions(ctx context.Context, merchantRef string, limit int) ([]*models.BudgetTransaction, error) {
	args := m.Called(ctx, merchantRef, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.BudgetTransaction), args.Error(1)
}

func (m *MockBudgetLedger) CheckInvariant(ctx context.Context, merchantRef string) error {
	args := m.Called(ctx, merchantRef)
	return args.Error(0)
}

// MockSettlementService is a mock implementation of SettlementService
type MockSettlementService struct {
	mock.Mock
}

func (m *MockSettlementService) Settle(ctx context.Context, req models.SettlementRequest) (*models.SettlementResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SettlementResult), args.Error(1)
}

func (m *MockSettlementService) Reconcile(ctx context.Context, externalRef string) (*models.Settlement, error) {
	args := m.Called(ctx, externalRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Settlement), args.Error(1)
}

func (m *MockSettlementService) Reverse(ctx context.Context, externalRef string) (*models.Settlement, error) {
	args := m.Called(ctx, externalRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Settlement), args.Error(1)
}

func (m *MockSettlementService) ReconcileStale(ctx context.Context, limit int) (int, error) {
	args := m.Called(ctx, limit)
	return args.Int(0), args.Error(1)
}

func (m *MockSettlementService) Get(ctx context.Context, externalRef string) (*models.Settlement, error) {
	args := m.Called(ctx, externalRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Settlement), args.Error(1)
}

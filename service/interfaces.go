package service

import (
	"context"
	"time"

	"rewarder/events"
	"rewarder/models"
)

// BudgetAccountRepository defines data access for merchant budget accounts
type BudgetAccountRepository interface {
	// GetByMerchantRef reads an account without locking it
	GetByMerchantRef(ctx context.Context, merchantRef string) (*models.BudgetAccount, error)

	// GetByMerchantRefForUpdate reads an account and holds its row lock until the transaction ends
	GetByMerchantRefForUpdate(ctx context.Context, merchantRef string) (*models.BudgetAccount, error)

	// GetOrCreateForUpdate locks the account, creating an empty active one first if needed
	GetOrCreateForUpdate(ctx context.Context, merchantRef string) (*models.BudgetAccount, error)

	// UpdateBalances writes current_balance, total_loaded and total_spent
	UpdateBalances(ctx context.Context, account *models.BudgetAccount) error

	// UpdateStatus changes an account's status
	UpdateStatus(ctx context.Context, accountID int64, status models.BudgetAccountStatus) error
}

// BudgetTransactionRepository defines data access for the budget audit trail
type BudgetTransactionRepository interface {
	// Record inserts an audit row and fills in its ID and CreatedAt
	Record(ctx context.Context, txn *models.BudgetTransaction) error

	// GetByExternalRef finds the transaction of the given type tagged with externalRef
	GetByExternalRef(ctx context.Context, externalRef string, txType models.BudgetTransactionType) (*models.BudgetTransaction, error)

	// ListByAccount returns the most recent transactions for an account
	ListByAccount(ctx context.Context, accountID int64, limit int) ([]*models.BudgetTransaction, error)
}

// WalletBalanceRepository defines data access for per-user wallet aggregates
type WalletBalanceRepository interface {
	GetByUserRef(ctx context.Context, userRef string) (*models.WalletBalance, error)
	GetByUserRefForUpdate(ctx context.Context, userRef string) (*models.WalletBalance, error)
	GetOrCreateForUpdate(ctx context.Context, userRef string) (*models.WalletBalance, error)
	Update(ctx context.Context, wallet *models.WalletBalance) error
}

// PointsTransactionRepository defines data access for wallet movements
type PointsTransactionRepository interface {
	// Create inserts a points transaction and fills in its ID and CreatedAt
	Create(ctx context.Context, txn *models.PointsTransaction) error

	GetByID(ctx context.Context, id int64) (*models.PointsTransaction, error)
	GetByIDForUpdate(ctx context.Context, id int64) (*models.PointsTransaction, error)

	// GetEarnByExternalRef returns the earn tagged with externalRef, if any
	GetEarnByExternalRef(ctx context.Context, externalRef string) (*models.PointsTransaction, error)

	// ListPendingUserRefs returns the distinct users owning pending rows for externalRef
	ListPendingUserRefs(ctx context.Context, externalRef string) ([]string, error)

	// ListPendingForUpdate locks a user's pending rows for externalRef
	ListPendingForUpdate(ctx context.Context, userRef, externalRef string) ([]*models.PointsTransaction, error)

	// ListExpiredUserRefs returns users owning expirable rows whose expiry passed
	ListExpiredUserRefs(ctx context.Context, now time.Time, limit int) ([]string, error)

	// ListExpiredForUpdate locks a user's expirable rows whose expiry passed
	ListExpiredForUpdate(ctx context.Context, userRef string, now time.Time) ([]*models.PointsTransaction, error)

	// UpdateStatus moves a row to a new status and stamps processed_at
	UpdateStatus(ctx context.Context, id int64, status models.PointsStatus, processedAt time.Time) error

	// DeletePending removes a row that is still pending
	DeletePending(ctx context.Context, id int64) error

	// SumByStatus totals a user's rows per status
	SumByStatus(ctx context.Context, userRef string) (*models.PointsBucketTotals, error)

	ListByUser(ctx context.Context, userRef string, limit int) ([]*models.PointsTransaction, error)
}

// DueItemRepository defines data access for the dispatcher queue
type DueItemRepository interface {
	// Enqueue inserts a pending item and fills in its ID
	Enqueue(ctx context.Context, item *models.DueItem) error

	// EnsureRecurring inserts a pending item for a recurring job unless one is
	// already pending. The item is scheduled interval after the job last ran,
	// or at now when it never ran. Returns true when an item was inserted.
	EnsureRecurring(ctx context.Context, kind models.DueItemKind, payloadRef string, interval time.Duration, now time.Time) (bool, error)

	// ClaimDue locks up to limit due rows, skipping rows locked by other runners
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*models.DueItem, error)

	MarkSent(ctx context.Context, id int64, processedAt time.Time) error
	MarkRetry(ctx context.Context, id int64, retryCount int, lastError string) error
	MarkFailed(ctx context.Context, id int64, retryCount int, lastError string, processedAt time.Time) error

	GetByID(ctx context.Context, id int64) (*models.DueItem, error)
	ListFailed(ctx context.Context, limit int) ([]*models.DueItem, error)

	// Requeue enqueues a pending copy of a failed item; nil when there is
	// nothing to copy
	Requeue(ctx context.Context, id int64, scheduledAt time.Time) (*models.DueItem, error)

	// CountByStatus returns item counts keyed by status
	CountByStatus(ctx context.Context) (map[models.DueItemStatus]int64, error)
}

// SettlementRepository defines data access for settlement saga records
type SettlementRepository interface {
	// Create inserts a settlement; a duplicate external_ref surfaces as ErrDuplicate
	Create(ctx context.Context, settlement *models.Settlement) error

	GetByExternalRef(ctx context.Context, externalRef string) (*models.Settlement, error)
	GetByExternalRefForUpdate(ctx context.Context, externalRef string) (*models.Settlement, error)

	// Update writes status, points transaction link and last error
	Update(ctx context.Context, settlement *models.Settlement) error

	// ListStale returns debited settlements not touched since before
	ListStale(ctx context.Context, before time.Time, limit int) ([]*models.Settlement, error)
}

// CampaignRepository defines read access to merchant campaigns
type CampaignRepository interface {
	// FindForMerchant returns the campaign that would apply at the given time:
	// campaignRef when set, otherwise the latest started active campaign.
	FindForMerchant(ctx context.Context, merchantRef, campaignRef string, at time.Time) (*models.Campaign, error)
}

// EventPublisher defines the interface for publishing events
type EventPublisher interface {
	Publish(event events.Event)
}

// UnitOfWork defines the interface for transactional repository operations
type UnitOfWork interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) error

	// Commit commits the transaction and flushes pending events
	Commit() error

	// Rollback rolls back the transaction; a no-op after Commit
	Rollback() error

	BudgetAccountRepository() BudgetAccountRepository
	BudgetTransactionRepository() BudgetTransactionRepository
	WalletBalanceRepository() WalletBalanceRepository
	PointsTransactionRepository() PointsTransactionRepository
	DueItemRepository() DueItemRepository
	SettlementRepository() SettlementRepository
	EventBus() EventPublisher
}

// UnitOfWorkFactory defines the interface for creating UnitOfWork instances
type UnitOfWorkFactory interface {
	Create() UnitOfWork
}

// BudgetLedger moves merchant cashback funds
type BudgetLedger interface {
	// Debit pays out from an active account, failing with ErrInsufficientFunds
	// rather than letting the balance go negative
	Debit(ctx context.Context, merchantRef string, amount int64, reason string) (*models.BudgetTransaction, error)

	// Credit loads funds, creating the account on first use
	Credit(ctx context.Context, merchantRef string, amount int64, reason string) (*models.BudgetTransaction, error)

	// Refund returns previously paid out funds to the account
	Refund(ctx context.Context, merchantRef string, amount int64, reason, externalRef string) (*models.BudgetTransaction, error)

	SetStatus(ctx context.Context, merchantRef string, status models.BudgetAccountStatus) (*models.BudgetAccount, error)
	GetAccount(ctx context.Context, merchantRef string) (*models.BudgetAccount, error)
	ListTransactions(ctx context.Context, merchantRef string, limit int) ([]*models.BudgetTransaction, error)
	CheckInvariant(ctx context.Context, merchantRef string) error
}

// PointsLedger moves value through a user's wallet
type PointsLedger interface {
	Earn(ctx context.Context, req EarnRequest) (*models.PointsTransaction, error)
	Redeem(ctx context.Context, userRef string, amount int64) (*models.PointsTransaction, error)

	// Verify makes every pending earn for externalRef available. Calling it
	// again returns zero.
	Verify(ctx context.Context, externalRef string) (int, error)

	// SweepExpired expires every pending or available earn past its expiry
	SweepExpired(ctx context.Context, now time.Time) (int, error)

	// ExpireTransaction expires a single earn if its expiry has passed
	ExpireTransaction(ctx context.Context, id int64, now time.Time) (bool, error)

	// CancelPending deletes unverified pending earns for externalRef
	CancelPending(ctx context.Context, externalRef string) (int64, error)

	GetWallet(ctx context.Context, userRef string) (*models.WalletBalance, error)
	ListTransactions(ctx context.Context, userRef string, limit int) ([]*models.PointsTransaction, error)
	CheckInvariant(ctx context.Context, userRef string) error
}

// SettlementService converts qualifying external events into ledger movements
type SettlementService interface {
	Settle(ctx context.Context, req models.SettlementRequest) (*models.SettlementResult, error)

	// Reconcile finishes or compensates a settlement left in the debited state
	Reconcile(ctx context.Context, externalRef string) (*models.Settlement, error)

	// Reverse undoes a settlement whose earn has not been verified yet
	Reverse(ctx context.Context, externalRef string) (*models.Settlement, error)

	// ReconcileStale reconciles up to limit debited settlements that have been
	// quiet for longer than the in-flight grace. Returns how many reached a
	// final status.
	ReconcileStale(ctx context.Context, limit int) (int, error)

	Get(ctx context.Context, externalRef string) (*models.Settlement, error)
}

// CampaignResolver resolves the campaign applying to a merchant
type CampaignResolver interface {
	Resolve(ctx context.Context, merchantRef, campaignRef string, at time.Time) (*models.Campaign, error)
}

// SettlementGuard serializes concurrent intake of the same external reference
// across processes. Acquire returns ErrSettlementInProgress when another
// holder has it.
type SettlementGuard interface {
	Acquire(ctx context.Context, externalRef string) (release func(), err error)
}

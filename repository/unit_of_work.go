package repository

import (
	"context"
	"fmt"

	"rewarder/database"
	"rewarder/events"
	"rewarder/service"

	"github.com/jackc/pgx/v5"
)

// unitOfWork implements the UnitOfWork interface for one store. Both the
// budget store and the wallet store get their own factory; each exposes every
// repository, and callers use the ones that belong to that store.
type unitOfWork struct {
	db                    *database.DB
	tx                    pgx.Tx
	ctx                   context.Context
	transactionalBus      *events.TransactionalBus
	budgetAccountRepo     service.BudgetAccountRepository
	budgetTransactionRepo service.BudgetTransactionRepository
	walletBalanceRepo     service.WalletBalanceRepository
	pointsTransactionRepo service.PointsTransactionRepository
	dueItemRepo           service.DueItemRepository
	settlementRepo        service.SettlementRepository
}

// NewUnitOfWorkFactory creates a new UnitOfWork factory
func NewUnitOfWorkFactory(db *database.DB, eventBus *events.Bus) service.UnitOfWorkFactory {
	return &unitOfWorkFactory{
		db:       db,
		eventBus: eventBus,
	}
}

type unitOfWorkFactory struct {
	db       *database.DB
	eventBus *events.Bus
}

func (f *unitOfWorkFactory) Create() service.UnitOfWork {
	return &unitOfWork{
		db:               f.db,
		transactionalBus: events.NewTransactionalBus(f.eventBus),
	}
}

// Begin starts a new transaction
func (u *unitOfWork) Begin(ctx context.Context) error {
	if u.tx != nil {
		return fmt.Errorf("transaction already started")
	}

	tx, err := u.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	u.tx = tx
	u.ctx = ctx

	// Create repositories with the transaction
	u.budgetAccountRepo = newBudgetAccountRepositoryWithTx(tx)
	u.budgetTransactionRepo = newBudgetTransactionRepositoryWithTx(tx)
	u.walletBalanceRepo = newWalletBalanceRepositoryWithTx(tx)
	u.pointsTransactionRepo = newPointsTransactionRepositoryWithTx(tx)
	u.dueItemRepo = newDueItemRepositoryWithTx(tx)
	u.settlementRepo = newSettlementRepositoryWithTx(tx)

	return nil
}

// Commit commits the transaction
func (u *unitOfWork) Commit() error {
	if u.tx == nil {
		return fmt.Errorf("no transaction to commit")
	}

	err := u.tx.Commit(u.ctx)
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	u.tx = nil

	// Flush pending events after successful commit
	if u.transactionalBus != nil {
		u.transactionalBus.Flush()
	}

	return nil
}

// Rollback rolls back the transaction
func (u *unitOfWork) Rollback() error {
	if u.tx == nil {
		return nil // Nothing to rollback
	}

	// The caller's context may already be cancelled; the rollback must still run
	err := u.tx.Rollback(context.WithoutCancel(u.ctx))
	if err != nil && err != pgx.ErrTxClosed {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}

	u.tx = nil

	// Discard pending events on rollback
	if u.transactionalBus != nil {
		u.transactionalBus.Discard()
	}

	return nil
}

// BudgetAccountRepository returns the budget account repository for this unit of work
func (u *unitOfWork) BudgetAccountRepository() service.BudgetAccountRepository {
	if u.budgetAccountRepo == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.budgetAccountRepo
}

// BudgetTransactionRepository returns the budget transaction repository for this unit of work
func (u *unitOfWork) BudgetTransactionRepository() service.BudgetTransactionRepository {
	if u.budgetTransactionRepo == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.budgetTransactionRepo
}

// WalletBalanceRepository returns the wallet balance repository for this unit of work
func (u *unitOfWork) WalletBalanceRepository() service.WalletBalanceRepository {
	if u.walletBalanceRepo == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.walletBalanceRepo
}

// PointsTransactionRepository returns the points transaction repository for this unit of work
func (u *unitOfWork) PointsTransactionRepository() service.PointsTransactionRepository {
	if u.pointsTransactionRepo == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.pointsTransactionRepo
}

// DueItemRepository returns the due item repository for this unit of work
func (u *unitOfWork) DueItemRepository() service.DueItemRepository {
	if u.dueItemRepo == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.dueItemRepo
}

// SettlementRepository returns the settlement repository for this unit of work
func (u *unitOfWork) SettlementRepository() service.SettlementRepository {
	if u.settlementRepo == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.settlementRepo
}

// EventBus returns the transactional event bus for this unit of work
func (u *unitOfWork) EventBus() service.EventPublisher {
	if u.transactionalBus == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.transactionalBus
}

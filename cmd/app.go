package cmd

import (
	"context"
	"errors"
	"fmt"

	"rewarder/config"
	"rewarder/database"
	"rewarder/dispatcher"
	"rewarder/events"
	"rewarder/infrastructure"
	"rewarder/models"
	"rewarder/repository"
	"rewarder/service"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Store names used for dispatchers and the operator API
const (
	StoreBudget = "budget"
	StoreWallet = "wallet"
)

// app holds everything wired from configuration. The server and the
// one-shot commands share it.
type app struct {
	cfg *config.Config

	budgetDB *database.DB
	walletDB *database.DB
	bus      *events.Bus

	budgetUoW service.UnitOfWorkFactory
	walletUoW service.UnitOfWorkFactory
	campaigns *repository.CampaignRepository

	// campaignCache is nil without Redis
	campaignCache *infrastructure.CachedCampaignResolver

	budget      service.BudgetLedger
	points      service.PointsLedger
	settlements service.SettlementService

	// dispatchers is keyed by store name; a shared store has one entry
	dispatchers map[string]*dispatcher.Dispatcher

	redis *redis.Client
	nats  *infrastructure.NATSClient
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, bus: events.NewBus()}

	dbOptions := database.Options{LockTimeout: cfg.LockTimeout}

	log.Println("Connecting to budget store...")
	budgetDB, err := database.NewConnectionWithOptions(ctx, cfg.GetDatabaseURL(), dbOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to budget store: %w", err)
	}
	a.budgetDB = budgetDB
	a.walletDB = budgetDB

	if cfg.SeparateWalletStore() {
		log.Println("Connecting to wallet store...")
		walletDB, err := database.NewConnectionWithOptions(ctx, cfg.GetWalletDatabaseURL(), dbOptions)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to wallet store: %w", err)
		}
		a.walletDB = walletDB
	}

	a.budgetUoW = repository.NewUnitOfWorkFactory(a.budgetDB, a.bus)
	a.walletUoW = repository.NewUnitOfWorkFactory(a.walletDB, a.bus)
	a.campaigns = repository.NewCampaignRepository(a.budgetDB)

	if cfg.RedisURL != "" {
		client, err := infrastructure.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			// The cache and the guard are optimizations; run without them
			log.WithError(err).Warn("Redis unavailable, continuing without campaign cache and settlement guard")
		} else {
			a.redis = client
		}
	}

	if cfg.NATSEnabled {
		client := infrastructure.NewNATSClient(cfg.NATSServers)
		if err := client.Connect(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		if err := infrastructure.EnsureStreams(client, infrastructure.NewEventSubjectMapper()); err != nil {
			log.WithError(err).Warn("Failed to ensure NATS streams")
		}
		a.nats = client
	}

	a.wireServices()
	a.wireDispatchers()
	return a, nil
}

func (a *app) wireServices() {
	var resolver service.CampaignResolver = service.NewCampaignResolver(a.campaigns)
	var guard service.SettlementGuard
	if a.redis != nil {
		a.campaignCache = infrastructure.NewCachedCampaignResolver(resolver, a.redis, a.cfg.CampaignCacheTTL)
		resolver = a.campaignCache
		guard = infrastructure.NewRedisSettlementGuard(a.redis)
	}

	settlementConfig := service.DefaultSettlementConfig()
	settlementConfig.PolicyWindow = a.cfg.PointsPolicyWindow
	settlementConfig.ReminderDelay = a.cfg.ReminderDelay
	settlementConfig.ReconcileDelay = a.cfg.ReconcileDelay

	a.budget = service.NewBudgetLedger(a.budgetUoW)
	a.points = service.NewPointsLedger(a.walletUoW, a.cfg.VerificationWindow)
	a.settlements = service.NewSettlementService(a.budgetUoW, a.walletUoW, a.points, resolver, guard, settlementConfig)

	// Committed ledger events leave the process through NATS when it is on
	var publisher infrastructure.EventPublisher = infrastructure.NewNoopEventPublisher()
	if a.nats != nil {
		publisher = infrastructure.NewNATSEventPublisher(a.nats, infrastructure.NewEventSubjectMapper())
	}
	infrastructure.ForwardEvents(a.bus, publisher)
}

// wireDispatchers starts one dispatcher per distinct store. Reconcile items
// live with the budget; reminders, expiries and the sweep live with the wallet.
func (a *app) wireDispatchers() {
	var notifier dispatcher.Notifier = infrastructure.NewLogNotifier()
	if a.nats != nil {
		notifier = infrastructure.NewNATSNotifier(a.nats)
	}

	registry := dispatcher.NewRegistry()
	dispatcher.RegisterDefaultHandlers(registry, notifier, a.points, a.settlements)

	newDispatcher := func(name string, uow service.UnitOfWorkFactory) *dispatcher.Dispatcher {
		return dispatcher.New(uow, registry, dispatcher.Config{
			Name:       name,
			Interval:   a.cfg.DispatchInterval,
			BatchSize:  a.cfg.DispatchBatchSize,
			MaxRetries: a.cfg.DispatchMaxRetries,
		})
	}

	a.dispatchers = map[string]*dispatcher.Dispatcher{
		StoreBudget: newDispatcher(StoreBudget, a.budgetUoW),
	}
	walletDispatcher := a.dispatchers[StoreBudget]
	if a.walletDB != a.budgetDB {
		walletDispatcher = newDispatcher(StoreWallet, a.walletUoW)
		a.dispatchers[StoreWallet] = walletDispatcher
	}
	walletDispatcher.AddRecurring(models.DueItemKindPointsSweep, "all", a.cfg.SweepInterval)
}

// health pings every store
func (a *app) health(ctx context.Context) error {
	if err := a.budgetDB.Ping(ctx); err != nil {
		return fmt.Errorf("budget store: %w", err)
	}
	if a.walletDB != a.budgetDB {
		if err := a.walletDB.Ping(ctx); err != nil {
			return fmt.Errorf("wallet store: %w", err)
		}
	}
	return nil
}

// Close releases connections in reverse order of acquisition. Event
// handlers still running are waited for first.
func (a *app) Close() {
	a.bus.Wait()

	var errs []error
	if a.nats != nil {
		errs = append(errs, a.nats.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if err := errors.Join(errs...); err != nil {
		log.WithError(err).Warn("Error closing messaging clients")
	}

	if a.walletDB != nil && a.walletDB != a.budgetDB {
		a.walletDB.Close()
	}
	if a.budgetDB != nil {
		a.budgetDB.Close()
	}
}

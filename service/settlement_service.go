package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"rewarder/events"
	"rewarder/infrastructure/observability"
	"rewarder/models"

	log "github.com/sirupsen/logrus"
)

// SettlementConfig holds the timing policy of the settlement saga
type SettlementConfig struct {
	// PolicyWindow is how long earned points live before expiring
	PolicyWindow time.Duration
	// ReminderDelay is when the verification reminder goes out after a settlement
	ReminderDelay time.Duration
	// ReconcileDelay is when the dispatcher checks a settlement that never completed
	ReconcileDelay time.Duration
	// InFlightGrace is how long a debited settlement is assumed to still be crediting
	InFlightGrace time.Duration
	// CreditAttempts bounds in-process retries of the wallet credit
	CreditAttempts int
	CreditBackoff  time.Duration
}

// DefaultSettlementConfig returns the policy used when nothing is configured
func DefaultSettlementConfig() SettlementConfig {
	return SettlementConfig{
		PolicyWindow:   90 * 24 * time.Hour,
		ReminderDelay:  24 * time.Hour,
		ReconcileDelay: 5 * time.Minute,
		InFlightGrace:  time.Minute,
		CreditAttempts: 3,
		CreditBackoff:  200 * time.Millisecond,
	}
}

type settlementService struct {
	budgetUoW UnitOfWorkFactory
	walletUoW UnitOfWorkFactory
	points    PointsLedger
	campaigns CampaignResolver
	guard     SettlementGuard
	config    SettlementConfig
	now       func() time.Time
}

// NewSettlementService wires the saga across the budget store and the wallet
// store. guard may be nil when no cross-process lock is available; the unique
// external_ref constraints still reject duplicates.
func NewSettlementService(budgetUoW, walletUoW UnitOfWorkFactory, points PointsLedger, campaigns CampaignResolver, guard SettlementGuard, config SettlementConfig) SettlementService {
	if config.CreditAttempts <= 0 {
		config.CreditAttempts = 1
	}
	return &settlementService{
		budgetUoW: budgetUoW,
		walletUoW: walletUoW,
		points:    points,
		campaigns: campaigns,
		guard:     guard,
		config:    config,
		now:       time.Now,
	}
}

// Settle debits the merchant budget and credits a pending earn to the user,
// exactly once per external reference. The debit always happens first so a
// failure in between can be completed or refunded later.
func (s *settlementService) Settle(ctx context.Context, req models.SettlementRequest) (*models.SettlementResult, error) {
	baseAmount, err := s.validateRequest(req)
	if err != nil {
		return nil, err
	}

	release, err := s.acquire(ctx, req.ExternalRef)
	if err != nil {
		return nil, err
	}
	defer release()

	existing, err := s.Get(ctx, req.ExternalRef)
	if err != nil && !errors.Is(err, ErrSettlementNotFound) {
		return nil, err
	}
	if existing != nil {
		return s.handleExisting(ctx, existing)
	}

	earn, err := s.findEarn(ctx, req.ExternalRef)
	if err != nil {
		return nil, err
	}
	if earn != nil {
		s.recordOutcome(ctx, "duplicate")
		return nil, fmt.Errorf("%w: points already credited for %s", ErrDuplicate, req.ExternalRef)
	}

	now := s.now()
	campaign, err := s.campaigns.Resolve(ctx, req.MerchantRef, req.CampaignRef, now)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve campaign: %w", err)
	}
	if campaign == nil || !campaign.ActiveAt(now) {
		s.recordOutcome(ctx, "no_active_campaign")
		return nil, fmt.Errorf("%w: merchant %s", ErrNoActiveCampaign, req.MerchantRef)
	}

	reward := models.RewardAmount(baseAmount, campaign.Rate)
	if reward <= 0 {
		return nil, validationError("reward for base %s at %s%% rounds to zero",
			models.FormatMinorUnits(baseAmount), campaign.Rate.String())
	}

	settlement, payout, err := s.debit(ctx, req, campaign, baseAmount, reward)
	if err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			s.recordOutcome(ctx, "insufficient_funds")
		} else if errors.Is(err, ErrDuplicate) {
			s.recordOutcome(ctx, "duplicate")
		}
		return nil, err
	}

	return s.finish(ctx, settlement, payout)
}

func (s *settlementService) validateRequest(req models.SettlementRequest) (int64, error) {
	if strings.TrimSpace(req.ExternalRef) == "" {
		return 0, validationError("external reference is required")
	}
	if strings.TrimSpace(req.MerchantRef) == "" {
		return 0, validationError("merchant reference is required")
	}
	if strings.TrimSpace(req.UserRef) == "" {
		return 0, validationError("user reference is required")
	}
	if !req.BaseAmount.IsPositive() {
		return 0, validationError("base amount must be positive")
	}
	baseAmount, err := models.ToMinorUnits(req.BaseAmount)
	if err != nil {
		return 0, validationError("%v", err)
	}
	return baseAmount, nil
}

func (s *settlementService) acquire(ctx context.Context, externalRef string) (func(), error) {
	if s.guard == nil {
		return func() {}, nil
	}
	return s.guard.Acquire(ctx, externalRef)
}

// handleExisting decides what a repeated request for a known reference gets.
// Finished settlements are duplicates; a debited one that has gone quiet is
// resumed.
func (s *settlementService) handleExisting(ctx context.Context, existing *models.Settlement) (*models.SettlementResult, error) {
	if existing.IsFinal() {
		s.recordOutcome(ctx, "duplicate")
		return nil, fmt.Errorf("%w: settlement %s is %s", ErrDuplicate, existing.ExternalRef, existing.Status)
	}
	if s.now().Sub(existing.UpdatedAt) < s.config.InFlightGrace {
		return nil, fmt.Errorf("%w: %s", ErrSettlementInProgress, existing.ExternalRef)
	}

	log.WithField("externalRef", existing.ExternalRef).Info("Resuming debited settlement")
	payout, err := s.getPayout(ctx, existing.ExternalRef)
	if err != nil {
		return nil, err
	}
	return s.finish(ctx, existing, payout)
}

// debit writes the settlement record, the payout and the reconcile item in
// one budget transaction
func (s *settlementService) debit(ctx context.Context, req models.SettlementRequest, campaign *models.Campaign, baseAmount, reward int64) (*models.Settlement, *models.BudgetTransaction, error) {
	uow := s.budgetUoW.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, nil, storeError("failed to begin transaction", err)
	}
	defer uow.Rollback()

	prior, err := uow.BudgetTransactionRepository().GetByExternalRef(ctx, req.ExternalRef, models.BudgetTransactionTypePayout)
	if err != nil {
		return nil, nil, storeError("failed to check payout", err)
	}
	if prior != nil {
		return nil, nil, fmt.Errorf("%w: payout already recorded for %s", ErrDuplicate, req.ExternalRef)
	}

	reason := fmt.Sprintf("cashback for %s", req.ExternalRef)
	payout, err := debitAccount(ctx, uow, req.MerchantRef, reward, reason, req.ExternalRef)
	if err != nil {
		return nil, nil, err
	}

	settlement := &models.Settlement{
		ExternalRef:         req.ExternalRef,
		MerchantRef:         req.MerchantRef,
		UserRef:             req.UserRef,
		CampaignRef:         campaign.CampaignRef,
		BaseAmount:          baseAmount,
		Rate:                campaign.Rate,
		RewardAmount:        reward,
		Status:              models.SettlementStatusDebited,
		BudgetTransactionID: &payout.ID,
	}
	if err := uow.SettlementRepository().Create(ctx, settlement); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, nil, err
		}
		return nil, nil, storeError("failed to create settlement", err)
	}

	reconcile := &models.DueItem{
		Kind:        models.DueItemKindSettlementReconcile,
		PayloadRef:  req.ExternalRef,
		ScheduledAt: s.now().Add(s.config.ReconcileDelay),
		MaxRetries:  models.DefaultDueItemMaxRetries,
	}
	if err := uow.DueItemRepository().Enqueue(ctx, reconcile); err != nil {
		return nil, nil, storeError("failed to schedule settlement reconcile", err)
	}

	if err := uow.Commit(); err != nil {
		return nil, nil, storeError("failed to commit settlement debit", err)
	}

	log.WithFields(log.Fields{
		"externalRef": req.ExternalRef,
		"merchantRef": req.MerchantRef,
		"userRef":     req.UserRef,
		"reward":      models.FormatMinorUnits(reward),
	}).Info("Settlement debited")

	return settlement, payout, nil
}

// finish credits the wallet, marks the settlement completed and fires the
// best-effort reminder
func (s *settlementService) finish(ctx context.Context, settlement *models.Settlement, payout *models.BudgetTransaction) (*models.SettlementResult, error) {
	earn, err := s.credit(ctx, settlement)
	if err != nil {
		s.recordFailure(ctx, settlement.ExternalRef, err)
		s.recordOutcome(ctx, "credit_pending")
		return nil, fmt.Errorf("%w: settlement %s: %w", ErrCreditPending, settlement.ExternalRef, err)
	}

	completed, err := s.markCompleted(ctx, settlement.ExternalRef, earn.ID)
	if err != nil {
		return nil, err
	}

	s.scheduleReminder(ctx, completed, earn)
	s.recordOutcome(ctx, "completed")

	return &models.SettlementResult{
		Settlement: completed,
		Payout:     payout,
		Earn:       earn,
	}, nil
}

// credit performs the wallet earn with bounded retries on transient failures.
// An earn that already exists for the reference counts as credited.
func (s *settlementService) credit(ctx context.Context, settlement *models.Settlement) (*models.PointsTransaction, error) {
	expiresAt := s.now().Add(s.config.PolicyWindow)
	req := EarnRequest{
		UserRef:              settlement.UserRef,
		Amount:               settlement.RewardAmount,
		ExternalRef:          settlement.ExternalRef,
		VerificationRequired: true,
		ExpiresAt:            &expiresAt,
	}

	var lastErr error
	for attempt := 1; attempt <= s.config.CreditAttempts; attempt++ {
		earn, err := s.points.Earn(ctx, req)
		if err == nil {
			return earn, nil
		}
		if isDuplicate(err) {
			existing, findErr := s.findEarn(ctx, settlement.ExternalRef)
			if findErr != nil {
				return nil, findErr
			}
			if existing != nil {
				return existing, nil
			}
		}

		lastErr = err
		if !IsRetryable(err) || attempt == s.config.CreditAttempts {
			break
		}

		log.WithFields(log.Fields{
			"externalRef": settlement.ExternalRef,
			"attempt":     attempt,
			"error":       err,
		}).Warn("Wallet credit failed, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.config.CreditBackoff * time.Duration(attempt)):
		}
	}
	return nil, lastErr
}

func (s *settlementService) markCompleted(ctx context.Context, externalRef string, earnID int64) (*models.Settlement, error) {
	uow := s.budgetUoW.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, storeError("failed to begin transaction", err)
	}
	defer uow.Rollback()

	settlement, err := uow.SettlementRepository().GetByExternalRefForUpdate(ctx, externalRef)
	if err != nil {
		return nil, storeError("failed to lock settlement", err)
	}
	if settlement == nil {
		return nil, fmt.Errorf("%w: %s", ErrSettlementNotFound, externalRef)
	}
	if settlement.Status != models.SettlementStatusDebited {
		return settlement, nil
	}

	settlement.Status = models.SettlementStatusCompleted
	settlement.PointsTransactionID = &earnID
	settlement.LastError = nil
	if err := uow.SettlementRepository().Update(ctx, settlement); err != nil {
		return nil, storeError("failed to complete settlement", err)
	}

	uow.EventBus().Publish(events.SettlementEvent{
		EventKind:    events.EventTypeSettlementCompleted,
		ExternalRef:  settlement.ExternalRef,
		MerchantRef:  settlement.MerchantRef,
		UserRef:      settlement.UserRef,
		RewardAmount: settlement.RewardAmount,
		Status:       settlement.Status,
	})

	if err := uow.Commit(); err != nil {
		return nil, storeError("failed to commit settlement completion", err)
	}

	log.WithFields(log.Fields{
		"externalRef": externalRef,
		"reward":      models.FormatMinorUnits(settlement.RewardAmount),
	}).Info("Settlement completed")
	return settlement, nil
}

// scheduleReminder queues the verification reminder. Failures are logged
// and never undo the settlement.
func (s *settlementService) scheduleReminder(ctx context.Context, settlement *models.Settlement, earn *models.PointsTransaction) {
	payload := models.NotificationPayload{
		Template:    models.NotificationTemplateVerificationReminder,
		UserRef:     settlement.UserRef,
		ExternalRef: settlement.ExternalRef,
		Data: map[string]string{
			"amount": models.FormatMinorUnits(settlement.RewardAmount),
		},
	}
	if earn.VerificationDeadline != nil {
		payload.Data["deadline"] = earn.VerificationDeadline.Format(time.RFC3339)
	}

	err := func() error {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal reminder: %w", err)
		}

		uow := s.walletUoW.Create()
		if err := uow.Begin(ctx); err != nil {
			return err
		}
		defer uow.Rollback()

		item := &models.DueItem{
			Kind:        models.DueItemKindNotification,
			PayloadRef:  settlement.ExternalRef,
			Payload:     raw,
			ScheduledAt: s.now().Add(s.config.ReminderDelay),
			MaxRetries:  models.DefaultDueItemMaxRetries,
		}
		if err := uow.DueItemRepository().Enqueue(ctx, item); err != nil {
			return err
		}
		return uow.Commit()
	}()
	if err != nil {
		log.WithFields(log.Fields{
			"externalRef": settlement.ExternalRef,
			"error":       err,
		}).Warn("Failed to schedule verification reminder")
	}
}

// Reconcile completes a settlement stuck in the debited state. The payout is
// refunded only when the wallet rejects the credit outright and holds no earn
// for the reference; every other failure is returned for a later retry.
func (s *settlementService) Reconcile(ctx context.Context, externalRef string) (*models.Settlement, error) {
	release, err := s.acquire(ctx, externalRef)
	if err != nil {
		return nil, err
	}
	defer release()

	settlement, err := s.Get(ctx, externalRef)
	if err != nil {
		return nil, err
	}
	if settlement.IsFinal() {
		return settlement, nil
	}

	payout, err := s.getPayout(ctx, externalRef)
	if err != nil {
		return nil, err
	}

	result, err := s.finish(ctx, settlement, payout)
	if err == nil {
		return result.Settlement, nil
	}

	// A failed commit can still have landed in the wallet store, so the
	// payout is only refunded once no earn exists for the reference.
	earn, findErr := s.findEarn(ctx, externalRef)
	if findErr != nil {
		return nil, fmt.Errorf("%w (earn lookup: %v)", err, findErr)
	}
	if earn != nil {
		completed, err := s.markCompleted(ctx, externalRef, earn.ID)
		if err != nil {
			return nil, err
		}
		s.scheduleReminder(ctx, completed, earn)
		s.recordOutcome(ctx, "completed")
		return completed, nil
	}
	if !errors.Is(err, ErrValidation) {
		return nil, err
	}

	log.WithFields(log.Fields{
		"externalRef": externalRef,
		"error":       err,
	}).Warn("Settlement credit rejected, compensating")
	return s.compensate(ctx, externalRef, models.SettlementStatusCompensated, err.Error())
}

// Reverse undoes a settlement whose earn is still unverified: the pending
// earn is removed and the payout refunded
func (s *settlementService) Reverse(ctx context.Context, externalRef string) (*models.Settlement, error) {
	release, err := s.acquire(ctx, externalRef)
	if err != nil {
		return nil, err
	}
	defer release()

	settlement, err := s.Get(ctx, externalRef)
	if err != nil {
		return nil, err
	}

	switch settlement.Status {
	case models.SettlementStatusReversed:
		return settlement, nil
	case models.SettlementStatusCompensated:
		return nil, fmt.Errorf("%w: %s was already compensated", ErrNotReversible, externalRef)
	case models.SettlementStatusDebited:
		return nil, fmt.Errorf("%w: %s", ErrSettlementInProgress, externalRef)
	}

	removed, err := s.points.CancelPending(ctx, externalRef)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel pending earn: %w", err)
	}
	if removed == 0 {
		earn, err := s.findEarn(ctx, externalRef)
		if err != nil {
			return nil, err
		}
		if earn != nil {
			return nil, fmt.Errorf("%w: earn for %s is %s", ErrNotReversible, externalRef, earn.Status)
		}
	}

	return s.compensate(ctx, externalRef, models.SettlementStatusReversed, "")
}

// compensate refunds the payout and moves the settlement to a final status.
// The refund is tagged with the external reference so it happens once.
func (s *settlementService) compensate(ctx context.Context, externalRef string, status models.SettlementStatus, reason string) (*models.Settlement, error) {
	uow := s.budgetUoW.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, storeError("failed to begin transaction", err)
	}
	defer uow.Rollback()

	settlement, err := uow.SettlementRepository().GetByExternalRefForUpdate(ctx, externalRef)
	if err != nil {
		return nil, storeError("failed to lock settlement", err)
	}
	if settlement == nil {
		return nil, fmt.Errorf("%w: %s", ErrSettlementNotFound, externalRef)
	}
	if settlement.Status == models.SettlementStatusCompensated || settlement.Status == models.SettlementStatusReversed {
		return settlement, nil
	}

	refunded, err := uow.BudgetTransactionRepository().GetByExternalRef(ctx, externalRef, models.BudgetTransactionTypeRefund)
	if err != nil {
		return nil, storeError("failed to check refund", err)
	}
	if refunded == nil {
		description := fmt.Sprintf("%s of %s", status, externalRef)
		if _, err := refundAccount(ctx, uow, settlement.MerchantRef, settlement.RewardAmount, description, externalRef); err != nil {
			return nil, err
		}
	}

	settlement.Status = status
	if reason != "" {
		settlement.LastError = &reason
	}
	if err := uow.SettlementRepository().Update(ctx, settlement); err != nil {
		return nil, storeError("failed to update settlement", err)
	}

	eventType := events.EventTypeSettlementCompensated
	if status == models.SettlementStatusReversed {
		eventType = events.EventTypeSettlementReversed
	}
	uow.EventBus().Publish(events.SettlementEvent{
		EventKind:    eventType,
		ExternalRef:  settlement.ExternalRef,
		MerchantRef:  settlement.MerchantRef,
		UserRef:      settlement.UserRef,
		RewardAmount: settlement.RewardAmount,
		Status:       status,
	})

	if err := uow.Commit(); err != nil {
		return nil, storeError("failed to commit compensation", err)
	}

	s.recordOutcome(ctx, string(status))
	log.WithFields(log.Fields{
		"externalRef": externalRef,
		"status":      status,
		"refund":      models.FormatMinorUnits(settlement.RewardAmount),
	}).Info("Settlement refunded")
	return settlement, nil
}

// ReconcileStale is the backstop for settlements whose reconcile item was
// lost or failed. Each settlement is reconciled independently; one failure
// does not stop the others.
func (s *settlementService) ReconcileStale(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}

	uow := s.budgetUoW.Create()
	if err := uow.Begin(ctx); err != nil {
		return 0, storeError("failed to begin transaction", err)
	}
	stale, err := uow.SettlementRepository().ListStale(ctx, s.now().Add(-s.config.InFlightGrace), limit)
	uow.Rollback()
	if err != nil {
		return 0, storeError("failed to list stale settlements", err)
	}

	reconciled := 0
	for _, settlement := range stale {
		result, err := s.Reconcile(ctx, settlement.ExternalRef)
		if err != nil {
			log.WithFields(log.Fields{
				"externalRef": settlement.ExternalRef,
				"error":       err,
			}).Warn("Failed to reconcile stale settlement")
			continue
		}
		if result.IsFinal() {
			reconciled++
		}
	}

	if len(stale) > 0 {
		log.WithFields(log.Fields{
			"staleCount":      len(stale),
			"reconciledCount": reconciled,
		}).Info("Stale settlements reconciled")
	}
	return reconciled, nil
}

// Get returns the settlement for externalRef or ErrSettlementNotFound
func (s *settlementService) Get(ctx context.Context, externalRef string) (*models.Settlement, error) {
	uow := s.budgetUoW.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, storeError("failed to begin transaction", err)
	}
	defer uow.Rollback()

	settlement, err := uow.SettlementRepository().GetByExternalRef(ctx, externalRef)
	if err != nil {
		return nil, storeError("failed to get settlement", err)
	}
	if settlement == nil {
		return nil, fmt.Errorf("%w: %s", ErrSettlementNotFound, externalRef)
	}
	return settlement, nil
}

func (s *settlementService) getPayout(ctx context.Context, externalRef string) (*models.BudgetTransaction, error) {
	uow := s.budgetUoW.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, storeError("failed to begin transaction", err)
	}
	defer uow.Rollback()

	payout, err := uow.BudgetTransactionRepository().GetByExternalRef(ctx, externalRef, models.BudgetTransactionTypePayout)
	if err != nil {
		return nil, storeError("failed to get payout", err)
	}
	return payout, nil
}

func (s *settlementService) findEarn(ctx context.Context, externalRef string) (*models.PointsTransaction, error) {
	uow := s.walletUoW.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, storeError("failed to begin transaction", err)
	}
	defer uow.Rollback()

	earn, err := uow.PointsTransactionRepository().GetEarnByExternalRef(ctx, externalRef)
	if err != nil {
		return nil, storeError("failed to look up earn", err)
	}
	return earn, nil
}

// recordFailure stores the last credit error on a debited settlement so
// operators can see why it is waiting. Best effort.
func (s *settlementService) recordFailure(ctx context.Context, externalRef string, cause error) {
	err := func() error {
		uow := s.budgetUoW.Create()
		if err := uow.Begin(ctx); err != nil {
			return err
		}
		defer uow.Rollback()

		settlement, err := uow.SettlementRepository().GetByExternalRefForUpdate(ctx, externalRef)
		if err != nil || settlement == nil || settlement.Status != models.SettlementStatusDebited {
			return err
		}
		message := cause.Error()
		settlement.LastError = &message
		if err := uow.SettlementRepository().Update(ctx, settlement); err != nil {
			return err
		}
		return uow.Commit()
	}()
	if err != nil {
		log.WithFields(log.Fields{
			"externalRef": externalRef,
			"error":       err,
		}).Warn("Failed to record settlement credit failure")
	}
}

func (s *settlementService) recordOutcome(ctx context.Context, outcome string) {
	observability.GetMetrics().RecordSettlement(ctx, outcome)
}

package infrastructure

import (
	"context"
	"encoding/json"
	"time"

	"rewarder/models"
	"rewarder/service"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// SettlementMessage is a settlement request published by an upstream system
type SettlementMessage struct {
	ExternalRef string          `json:"external_ref"`
	MerchantRef string          `json:"merchant_ref"`
	UserRef     string          `json:"user_ref"`
	BaseAmount  decimal.Decimal `json:"base_amount"`
	CampaignRef string          `json:"campaign_ref,omitempty"`
}

// VerificationMessage confirms the external event behind pending earns
type VerificationMessage struct {
	ExternalRef string `json:"external_ref"`
}

// Subscriber registers a handler for a subject
type Subscriber interface {
	Subscribe(subject string, handler func([]byte) error) error
}

// IntakeConsumer feeds settlement and verification messages into the
// ledgers. Business rejections are acked and logged since redelivery cannot
// change them; store failures are returned so the message is redelivered.
type IntakeConsumer struct {
	settlements    service.SettlementService
	points         service.PointsLedger
	handlerTimeout time.Duration
}

func NewIntakeConsumer(settlements service.SettlementService, points service.PointsLedger) *IntakeConsumer {
	return &IntakeConsumer{
		settlements:    settlements,
		points:         points,
		handlerTimeout: 30 * time.Second,
	}
}

// Start subscribes the consumer to both intake subjects
func (c *IntakeConsumer) Start(subscriber Subscriber) error {
	if err := subscriber.Subscribe(IntakeSettlementSubject, c.HandleSettlement); err != nil {
		return err
	}
	return subscriber.Subscribe(IntakeVerificationSubject, c.HandleVerification)
}

func (c *IntakeConsumer) HandleSettlement(data []byte) error {
	var msg SettlementMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.WithError(err).Error("Dropping malformed settlement message")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.handlerTimeout)
	defer cancel()
	ctx = service.WithActor(ctx, "nats-intake")

	result, err := c.settlements.Settle(ctx, models.SettlementRequest{
		ExternalRef: msg.ExternalRef,
		MerchantRef: msg.MerchantRef,
		UserRef:     msg.UserRef,
		BaseAmount:  msg.BaseAmount,
		CampaignRef: msg.CampaignRef,
	})
	if err != nil {
		return c.outcome("settlement", msg.ExternalRef, err)
	}

	log.WithFields(log.Fields{
		"externalRef": msg.ExternalRef,
		"reward":      models.FormatMinorUnits(result.Settlement.RewardAmount),
	}).Info("Settlement intake processed")
	return nil
}

func (c *IntakeConsumer) HandleVerification(data []byte) error {
	var msg VerificationMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.WithError(err).Error("Dropping malformed verification message")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.handlerTimeout)
	defer cancel()

	updated, err := c.points.Verify(ctx, msg.ExternalRef)
	if err != nil {
		return c.outcome("verification", msg.ExternalRef, err)
	}

	log.WithFields(log.Fields{
		"externalRef":  msg.ExternalRef,
		"updatedCount": updated,
	}).Info("Verification intake processed")
	return nil
}

// outcome decides between ack (nil) and redelivery (err)
func (c *IntakeConsumer) outcome(kind, externalRef string, err error) error {
	fields := log.Fields{
		"kind":        kind,
		"externalRef": externalRef,
		"error":       err,
	}
	if service.IsRetryable(err) || !service.IsUserFacing(err) {
		log.WithFields(fields).Warn("Intake failed, message will be redelivered")
		return err
	}
	log.WithFields(fields).Info("Intake rejected")
	return nil
}

package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rewarder/service"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	settlementLockPrefix = "rewarder:lock:settlement:"
	settlementLockTTL    = 30 * time.Second
)

// RedisSettlementGuard serializes work on one external reference across
// processes. Redis is an optimization here: when the lock cannot be reached
// the caller proceeds and the store's unique constraints still hold.
type RedisSettlementGuard struct {
	locker *redislock.Client
	ttl    time.Duration
}

func NewRedisSettlementGuard(client redis.UniversalClient) *RedisSettlementGuard {
	return &RedisSettlementGuard{
		locker: redislock.New(client),
		ttl:    settlementLockTTL,
	}
}

func (g *RedisSettlementGuard) Acquire(ctx context.Context, externalRef string) (func(), error) {
	key := settlementLockPrefix + externalRef

	lock, err := g.locker.Obtain(ctx, key, g.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: %s", service.ErrSettlementInProgress, externalRef)
	}
	if err != nil {
		log.WithFields(log.Fields{
			"externalRef": externalRef,
			"error":       err,
		}).Warn("Could not reach settlement lock, proceeding without it")
		return func() {}, nil
	}

	return func() {
		// The caller's context may be done by now
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			log.WithFields(log.Fields{
				"externalRef": externalRef,
				"error":       err,
			}).Warn("Failed to release settlement lock")
		}
	}, nil
}

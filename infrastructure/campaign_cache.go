package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"rewarder/models"
	"rewarder/service"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const campaignKeyPrefix = "rewarder:campaign:"

// CachedCampaignResolver keeps resolved campaigns in Redis for ttl. Only hits
// are cached, and a cached campaign that no longer applies at the requested
// time falls through to the store, so a rate change is visible after at most
// ttl. Redis failures degrade to store reads.
type CachedCampaignResolver struct {
	next   service.CampaignResolver
	client redis.UniversalClient
	ttl    time.Duration
}

func NewCachedCampaignResolver(next service.CampaignResolver, client redis.UniversalClient, ttl time.Duration) *CachedCampaignResolver {
	return &CachedCampaignResolver{
		next:   next,
		client: client,
		ttl:    ttl,
	}
}

func campaignKey(merchantRef, campaignRef string) string {
	if campaignRef == "" {
		return fmt.Sprintf("%s%s:current", campaignKeyPrefix, merchantRef)
	}
	return fmt.Sprintf("%s%s:ref:%s", campaignKeyPrefix, merchantRef, campaignRef)
}

func (r *CachedCampaignResolver) Resolve(ctx context.Context, merchantRef, campaignRef string, at time.Time) (*models.Campaign, error) {
	key := campaignKey(merchantRef, campaignRef)

	cached, err := r.get(ctx, key)
	if err != nil {
		log.WithFields(log.Fields{
			"key":   key,
			"error": err,
		}).Warn("Campaign cache read failed")
	}
	if cached != nil && cached.ActiveAt(at) {
		return cached, nil
	}

	campaign, err := r.next.Resolve(ctx, merchantRef, campaignRef, at)
	if err != nil || campaign == nil {
		return campaign, err
	}

	if err := r.set(ctx, key, campaign); err != nil {
		log.WithFields(log.Fields{
			"key":   key,
			"error": err,
		}).Warn("Campaign cache write failed")
	}
	return campaign, nil
}

// Invalidate drops every cached entry for a merchant's campaign
func (r *CachedCampaignResolver) Invalidate(ctx context.Context, merchantRef, campaignRef string) error {
	keys := []string{campaignKey(merchantRef, "")}
	if campaignRef != "" {
		keys = append(keys, campaignKey(merchantRef, campaignRef))
	}
	return r.client.Del(ctx, keys...).Err()
}

func (r *CachedCampaignResolver) get(ctx context.Context, key string) (*models.Campaign, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var campaign models.Campaign
	if err := json.Unmarshal(val, &campaign); err != nil {
		return nil, fmt.Errorf("failed to decode cached campaign: %w", err)
	}
	return &campaign, nil
}

func (r *CachedCampaignResolver) set(ctx context.Context, key string, campaign *models.Campaign) error {
	raw, err := json.Marshal(campaign)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key, raw, r.ttl).Err()
}

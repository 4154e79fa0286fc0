package service

import (
	"context"
	"fmt"
	"time"

	"rewarder/models"
)

type campaignResolver struct {
	repo CampaignRepository
}

// NewCampaignResolver resolves campaigns straight from the store
func NewCampaignResolver(repo CampaignRepository) CampaignResolver {
	return &campaignResolver{repo: repo}
}

func (r *campaignResolver) Resolve(ctx context.Context, merchantRef, campaignRef string, at time.Time) (*models.Campaign, error) {
	campaign, err := r.repo.FindForMerchant(ctx, merchantRef, campaignRef, at)
	if err != nil {
		return nil, storeError(fmt.Sprintf("failed to find campaign for %s", merchantRef), err)
	}
	return campaign, nil
}

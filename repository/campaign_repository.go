package repository

import (
	"context"
	"fmt"
	"time"

	"rewarder/database"
	"rewarder/models"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const campaignColumns = `id, campaign_ref, merchant_ref, rate::text, starts_at, ends_at, active`

// CampaignRepository reads campaign metadata. Campaigns are managed outside
// the ledgers, so it always runs against the pool.
type CampaignRepository struct {
	q queryable
}

// NewCampaignRepository creates a new campaign repository
func NewCampaignRepository(db *database.DB) *CampaignRepository {
	return &CampaignRepository{q: db.Pool}
}

func scanCampaign(row pgx.Row) (*models.Campaign, error) {
	var c models.Campaign
	var rate string
	err := row.Scan(&c.ID, &c.CampaignRef, &c.MerchantRef, &rate, &c.StartsAt, &c.EndsAt, &c.Active)
	if err != nil {
		return nil, err
	}
	c.Rate, err = decimal.NewFromString(rate)
	if err != nil {
		return nil, fmt.Errorf("invalid campaign rate %q: %w", rate, err)
	}
	return &c, nil
}

// FindForMerchant returns the named campaign when campaignRef is set, or the
// most recently started campaign active at the given instant otherwise
func (r *CampaignRepository) FindForMerchant(ctx context.Context, merchantRef, campaignRef string, at time.Time) (*models.Campaign, error) {
	var row pgx.Row
	if campaignRef != "" {
		query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE campaign_ref = $1 AND merchant_ref = $2`
		row = r.q.QueryRow(ctx, query, campaignRef, merchantRef)
	} else {
		query := `
			SELECT ` + campaignColumns + `
			FROM campaigns
			WHERE merchant_ref = $1
			  AND active
			  AND starts_at <= $2
			  AND (ends_at IS NULL OR ends_at > $2)
			ORDER BY starts_at DESC, id DESC
			LIMIT 1
		`
		row = r.q.QueryRow(ctx, query, merchantRef, at)
	}

	campaign, err := scanCampaign(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find campaign for %s: %w", merchantRef, err)
	}
	return campaign, nil
}

// Create inserts a campaign and fills in its ID
func (r *CampaignRepository) Create(ctx context.Context, c *models.Campaign) error {
	query := `
		INSERT INTO campaigns (campaign_ref, merchant_ref, rate, starts_at, ends_at, active)
		VALUES ($1, $2, $3::numeric, $4, $5, $6)
		RETURNING id
	`

	err := r.q.QueryRow(ctx, query,
		c.CampaignRef,
		c.MerchantRef,
		c.Rate.String(),
		c.StartsAt,
		c.EndsAt,
		c.Active,
	).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("failed to create campaign %s: %w", c.CampaignRef, err)
	}
	return nil
}

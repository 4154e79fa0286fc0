package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Campaign is a merchant's cashback rate over a date window.
// Rate is a percentage of the base amount.
type Campaign struct {
	ID          int64           `db:"id" json:"id"`
	CampaignRef string          `db:"campaign_ref" json:"campaign_ref"`
	MerchantRef string          `db:"merchant_ref" json:"merchant_ref"`
	Rate        decimal.Decimal `db:"rate" json:"rate"`
	StartsAt    time.Time       `db:"starts_at" json:"starts_at"`
	EndsAt      *time.Time      `db:"ends_at" json:"ends_at,omitempty"`
	Active      bool            `db:"active" json:"active"`
}

// ActiveAt reports whether the campaign applies at the given instant
func (c *Campaign) ActiveAt(at time.Time) bool {
	if !c.Active || at.Before(c.StartsAt) {
		return false
	}
	return c.EndsAt == nil || at.Before(*c.EndsAt)
}

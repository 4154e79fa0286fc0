package models

import "time"

// WalletBalance is the per-user aggregate of points transactions.
// AvailableBalance equals the sum of available rows and PendingBalance the sum
// of pending rows; both are maintained by the points ledger only.
type WalletBalance struct {
	ID               int64     `db:"id"`
	UserRef          string    `db:"user_ref"`
	AvailableBalance int64     `db:"available_balance"`
	PendingBalance   int64     `db:"pending_balance"`
	TotalEarned      int64     `db:"total_earned"`
	TotalRedeemed    int64     `db:"total_redeemed"`
	TotalExpired     int64     `db:"total_expired"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

// PointsKind distinguishes earned value from redemptions
type PointsKind string

const (
	PointsKindEarn   PointsKind = "earn"
	PointsKindRedeem PointsKind = "redeem"
)

// PointsStatus is the bucket a points transaction currently counts towards
type PointsStatus string

const (
	PointsStatusPending   PointsStatus = "pending"
	PointsStatusAvailable PointsStatus = "available"
	PointsStatusExpired   PointsStatus = "expired"
)

// PointsTransaction is a signed movement in a user's wallet
type PointsTransaction struct {
	ID                   int64        `db:"id"`
	UserRef              string       `db:"user_ref"`
	Amount               int64        `db:"amount"`
	Kind                 PointsKind   `db:"kind"`
	Status               PointsStatus `db:"status"`
	ExternalRef          *string      `db:"external_ref"`
	VerificationRequired bool         `db:"verification_required"`
	VerificationDeadline *time.Time   `db:"verification_deadline"`
	ExpiresAt            *time.Time   `db:"expires_at"`
	CreatedAt            time.Time    `db:"created_at"`
	ProcessedAt          *time.Time   `db:"processed_at"`
}

// IsExpirable reports whether the row can still move to expired
func (p *PointsTransaction) IsExpirable() bool {
	return p.Kind == PointsKindEarn &&
		(p.Status == PointsStatusPending || p.Status == PointsStatusAvailable)
}

// ExpiredAt reports whether the row's expiry has passed at now
func (p *PointsTransaction) ExpiredAt(now time.Time) bool {
	return p.ExpiresAt != nil && !p.ExpiresAt.After(now)
}

// PointsBucketTotals holds the per-status sums used to verify a wallet
type PointsBucketTotals struct {
	Available int64
	Pending   int64
	Expired   int64
}

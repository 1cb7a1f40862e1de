package models

import (
	"time"

	"github.com/google/uuid"
)

// Boost campaign statuses. Only active campaigns are applied to ranking.
const (
	BoostStatusActive    = "active"
	BoostStatusPaused    = "paused"
	BoostStatusCancelled = "cancelled"
)

// BoostCampaign is a paid promotion multiplying one content item's ranking score until ExpiresAt.
type BoostCampaign struct {
	ID              uuid.UUID `json:"id"`
	ContentType     string    `json:"content_type"`
	ContentID       uuid.UUID `json:"content_id"`
	BoostMultiplier float64   `json:"boost_multiplier"`
	Status          string    `json:"status"`
	ExpiresAt       time.Time `json:"expires_at"`
	CreatedBy       uuid.UUID `json:"created_by"`
	CreatedAt       time.Time `json:"created_at"`
}

// IsLive reports whether the campaign is active and not yet expired at now.
func (b BoostCampaign) IsLive(now time.Time) bool {
	return b.Status == BoostStatusActive && b.ExpiresAt.After(now)
}

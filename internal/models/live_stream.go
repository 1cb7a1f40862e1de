package models

import (
	"time"

	"github.com/google/uuid"
)

// Live stream statuses.
const (
	LiveStatusScheduled = "scheduled"
	LiveStatusLive      = "live"
	LiveStatusEnded     = "ended"
)

// LiveStream is a live-stream shopping broadcast with the counters ranking reads.
type LiveStream struct {
	ID              uuid.UUID  `json:"id"`
	SellerID        uuid.UUID  `json:"seller_id"`
	Title           string     `json:"title"`
	Status          string     `json:"status"`
	ViewerCount     int        `json:"viewer_count"`
	TotalViewers    int        `json:"total_viewers"`
	TotalBids       int        `json:"total_bids"`
	BidAmountTotal  float64    `json:"bid_amount_total"`
	DurationMinutes int        `json:"duration_minutes"`
	Likes           int        `json:"likes"`
	Comments        int        `json:"comments"`
	Shares          int        `json:"shares"`
	CurrentScore    int        `json:"current_score"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// IsValidLiveStatus reports whether s is a known live stream status.
func IsValidLiveStatus(s string) bool {
	switch s {
	case LiveStatusScheduled, LiveStatusLive, LiveStatusEnded:
		return true
	}
	return false
}

package ranking

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/bidli/backend/internal/models"
)

func campaign(multiplier float64, status string, expiresIn, createdAgo time.Duration) models.BoostCampaign {
	return models.BoostCampaign{
		ID:              uuid.New(),
		ContentType:     string(TypeLiveStream),
		BoostMultiplier: multiplier,
		Status:          status,
		ExpiresAt:       testNow.Add(expiresIn),
		CreatedAt:       testNow.Add(-createdAgo),
	}
}

func TestSelectBoost_NoCampaigns(t *testing.T) {
	_, ok := SelectBoost(nil, testNow)
	assert.False(t, ok)
}

func TestSelectBoost_IgnoresInactiveAndExpired(t *testing.T) {
	campaigns := []models.BoostCampaign{
		campaign(5, models.BoostStatusPaused, time.Hour, time.Hour),
		campaign(4, models.BoostStatusActive, -time.Minute, time.Hour),
		campaign(3, models.BoostStatusActive, 0, time.Hour),
	}
	_, ok := SelectBoost(campaigns, testNow)
	assert.False(t, ok, "expiry at exactly now is not in the future")
}

func TestSelectBoost_HighestMultiplierWins(t *testing.T) {
	low := campaign(1.5, models.BoostStatusActive, time.Hour, time.Minute)
	high := campaign(2.5, models.BoostStatusActive, time.Hour, 2*time.Hour)

	for _, order := range [][]models.BoostCampaign{{low, high}, {high, low}} {
		got, ok := SelectBoost(order, testNow)
		assert.True(t, ok)
		assert.Equal(t, high.ID, got.ID)
	}
}

func TestSelectBoost_TieGoesToNewest(t *testing.T) {
	older := campaign(2, models.BoostStatusActive, time.Hour, 3*time.Hour)
	newer := campaign(2, models.BoostStatusActive, time.Hour, time.Hour)

	for _, order := range [][]models.BoostCampaign{{older, newer}, {newer, older}} {
		got, ok := SelectBoost(order, testNow)
		assert.True(t, ok)
		assert.Equal(t, newer.ID, got.ID)
	}
}

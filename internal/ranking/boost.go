package ranking

import (
	"time"

	"github.com/bidli/backend/internal/models"
)

// SelectBoost picks the single campaign to apply at now. Boosts never stack: among
// live campaigns the highest multiplier wins, then the most recently created, then
// the greatest id, so the choice does not depend on the order the store returned.
func SelectBoost(campaigns []models.BoostCampaign, now time.Time) (models.BoostCampaign, bool) {
	var (
		best  models.BoostCampaign
		found bool
	)
	for _, c := range campaigns {
		if !c.IsLive(now) {
			continue
		}
		if !found || outranks(c, best) {
			best, found = c, true
		}
	}
	return best, found
}

func outranks(a, b models.BoostCampaign) bool {
	if a.BoostMultiplier != b.BoostMultiplier {
		return a.BoostMultiplier > b.BoostMultiplier
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID.String() > b.ID.String()
}

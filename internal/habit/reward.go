package habit

import (
	"context"
	"fmt"
)

const (
	DefaultBaseReward   = 10
	DefaultSynergyBonus = 5
)

// Rewards computes point deltas. Applying them is the store's atomic
// increment; this type never touches the profile.
type Rewards struct {
	Base         int
	SynergyBonus int
}

// Credit returns the reward for a fresh completion.
func (r Rewards) Credit(partnerCompleted bool) (delta int, bonus bool) {
	if partnerCompleted {
		return r.Base + r.SynergyBonus, true
	}
	return r.Base, false
}

// Debit reverses what the record was actually awarded. Records that carry no
// stored award fall back to the flat base amount.
func (r Rewards) Debit(rec CompletionRecord) int {
	if rec.AwardedPoints > 0 {
		return -rec.AwardedPoints
	}
	return -r.Base
}

// creditCompletion scans the habit's direct synergy partners; any partner
// already completed on date earns the bonus.
func (e *Engine) creditCompletion(ctx context.Context, tx Tx, g *Graph, habitID int, date DateKey) (int, bool, error) {
	partners := g.SynergyPartners(habitID)
	if len(partners) == 0 {
		delta, bonus := e.rewards.Credit(false)
		return delta, bonus, nil
	}
	done, err := tx.CompletedAmong(ctx, partners, date)
	if err != nil {
		return 0, false, fmt.Errorf("check synergy partners: %w", err)
	}
	delta, bonus := e.rewards.Credit(len(done) > 0)
	return delta, bonus, nil
}

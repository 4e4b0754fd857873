package habit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	mqcontracts "habitledger/contracts/mq"
	"habitledger/pkg/logger"
	"habitledger/pkg/metrics"
	"habitledger/pkg/trace"
)

// ToggleCompletion sets the completion state of (habit, date) to desired.
//
// The ledger write, goal progress, skip supersede, points increment and
// outbox events commit in one transaction. Repeating a call with the same
// desired state is a no-op: Changed is false and XPDelta is zero.
func (e *Engine) ToggleCompletion(ctx context.Context, userID, habitID int, date DateKey, desired bool, note string) (ToggleResult, error) {
	if err := checkDate(date); err != nil {
		return ToggleResult{}, err
	}
	start := time.Now()
	log := logger.WithTrace(ctx, e.logger).With(
		zap.Int("user_id", userID),
		zap.Int("habit_id", habitID),
		zap.String("date", date.String()),
		zap.Bool("desired", desired),
	)

	h, err := e.store.GetHabit(ctx, userID, habitID)
	if err != nil {
		log.Warn("ToggleCompletion: habit lookup failed", zap.Error(err))
		metrics.RecordToggle(desired, "error", time.Since(start))
		return ToggleResult{}, err
	}
	if h.Archived {
		metrics.RecordToggle(desired, "rejected", time.Since(start))
		return ToggleResult{}, &ValidationError{Field: "habit", Reason: fmt.Sprintf("habit %d is archived", habitID)}
	}

	var g *Graph
	if desired {
		habits, err := e.store.ListHabits(ctx, userID)
		if err != nil {
			metrics.RecordToggle(desired, "error", time.Since(start))
			return ToggleResult{}, err
		}
		links, err := e.store.ListLinks(ctx, userID)
		if err != nil {
			metrics.RecordToggle(desired, "error", time.Since(start))
			return ToggleResult{}, err
		}
		g = NewGraph(links, habits)
	}

	var res ToggleResult
	err = e.store.InTx(ctx, func(tx Tx) error {
		res = ToggleResult{HabitID: habitID, Date: date, Completed: desired}
		if desired {
			return e.complete(ctx, tx, h, g, date, note, &res)
		}
		return e.uncomplete(ctx, tx, h, date, &res)
	})
	if err != nil {
		outcome := "error"
		if IsValidation(err) {
			outcome = "rejected"
		}
		log.Warn("ToggleCompletion failed", zap.Error(err))
		metrics.RecordToggle(desired, outcome, time.Since(start))
		return ToggleResult{}, err
	}

	if !res.Changed {
		p, err := e.store.GetProfile(ctx, userID)
		if err != nil {
			metrics.RecordToggle(desired, "error", time.Since(start))
			return ToggleResult{}, err
		}
		res.Profile = p
		log.Debug("ToggleCompletion: already in desired state")
		metrics.RecordToggle(desired, "noop", time.Since(start))
		return res, nil
	}

	metrics.RecordToggle(desired, "applied", time.Since(start))
	metrics.RecordReward(res.XPDelta, res.SynergyBonus)
	log.Info("Completion toggled",
		zap.Int("xp_delta", res.XPDelta),
		zap.Bool("synergy_bonus", res.SynergyBonus),
		zap.Int("level", res.Profile.Level),
		zap.Bool("level_changed", res.LevelChanged),
	)
	return res, nil
}

func (e *Engine) complete(ctx context.Context, tx Tx, h Habit, g *Graph, date DateKey, note string, res *ToggleResult) error {
	existing, err := tx.CompletedAmong(ctx, []int{h.ID}, date)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	if e.cfg.EnforceLocks {
		if prereqs := g.Prerequisites(h.ID); len(prereqs) > 0 {
			done, err := tx.CompletedAmong(ctx, prereqs, date)
			if err != nil {
				return err
			}
			if lock := g.LockStatus(h.ID, NewCompletionSet(done...)); lock.Locked {
				return &ValidationError{
					Field:  "habit",
					Reason: fmt.Sprintf("habit %d is locked on %s until %v are completed", h.ID, date, lock.BlockedBy),
				}
			}
		}
	}

	delta, bonus, err := e.creditCompletion(ctx, tx, g, h.ID, date)
	if err != nil {
		return err
	}

	err = tx.InsertCompletion(ctx, CompletionRecord{HabitID: h.ID, Date: date, Note: note, AwardedPoints: delta})
	if errors.Is(err, ErrConflictIgnored) {
		// A concurrent toggle won the race; it owns the reward.
		return nil
	}
	if err != nil {
		return err
	}

	if h.Type == TypeGoal {
		if err := tx.AdjustGoalProgress(ctx, h.ID, 1); err != nil {
			return err
		}
	}
	if err := tx.DeleteSkip(ctx, h.ID, date); err != nil {
		return err
	}

	applied, err := tx.ApplyPoints(ctx, h.UserID, delta)
	if err != nil {
		return err
	}
	res.Changed = true
	res.XPDelta = delta
	res.SynergyBonus = bonus
	res.Profile = applied.Profile
	res.LevelChanged = applied.LevelChanged()
	return e.enqueueToggleEvents(ctx, tx, h, applied, res)
}

func (e *Engine) uncomplete(ctx context.Context, tx Tx, h Habit, date DateKey, res *ToggleResult) error {
	rec, found, err := tx.DeleteCompletion(ctx, h.ID, date)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	if h.Type == TypeGoal {
		if err := tx.AdjustGoalProgress(ctx, h.ID, -1); err != nil {
			return err
		}
	}

	delta := e.rewards.Debit(rec)
	applied, err := tx.ApplyPoints(ctx, h.UserID, delta)
	if err != nil {
		return err
	}
	res.Changed = true
	res.XPDelta = delta
	res.Profile = applied.Profile
	res.LevelChanged = applied.LevelChanged()
	return e.enqueueToggleEvents(ctx, tx, h, applied, res)
}

func (e *Engine) enqueueToggleEvents(ctx context.Context, tx Tx, h Habit, applied AppliedPoints, res *ToggleResult) error {
	traceID := trace.FromContext(ctx)
	err := tx.Enqueue(ctx, Event{
		AggregateType: "habit",
		AggregateID:   h.ID,
		RoutingKey:    mqcontracts.RoutingKeyCompletionToggled,
		Payload: mqcontracts.CompletionToggledPayload{
			UserID:       h.UserID,
			HabitID:      h.ID,
			Date:         res.Date.String(),
			Completed:    res.Completed,
			XPDelta:      res.XPDelta,
			SynergyBonus: res.SynergyBonus,
			TraceID:      traceID,
		},
	})
	if err != nil {
		return err
	}
	if !applied.LevelChanged() {
		return nil
	}
	return tx.Enqueue(ctx, Event{
		AggregateType: "profile",
		AggregateID:   h.UserID,
		RoutingKey:    mqcontracts.RoutingKeyLevelChanged,
		Payload: mqcontracts.LevelChangedPayload{
			UserID:   h.UserID,
			OldLevel: applied.PreviousLevel,
			NewLevel: applied.Profile.Level,
			TraceID:  traceID,
		},
	})
}

// UpdateNote edits the note of an existing completion without touching its
// completion state or reward.
func (e *Engine) UpdateNote(ctx context.Context, userID, habitID int, date DateKey, note string) error {
	if err := checkDate(date); err != nil {
		return err
	}
	if _, err := e.store.GetHabit(ctx, userID, habitID); err != nil {
		return err
	}
	if err := e.store.UpdateNote(ctx, habitID, date, note); err != nil {
		logger.WithTrace(ctx, e.logger).Warn("UpdateNote failed",
			zap.Int("habit_id", habitID),
			zap.String("date", date.String()),
			zap.Error(err),
		)
		return err
	}
	return nil
}

package habit

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	mqcontracts "habitledger/contracts/mq"
	"habitledger/pkg/logger"
	"habitledger/pkg/metrics"
	"habitledger/pkg/trace"
)

// SkipHabit excuses the obligation on date: no reward, no arrear. A skip on
// a day that already has a completion is a no-op, since the completion
// supersedes it anyway.
func (e *Engine) SkipHabit(ctx context.Context, userID, habitID int, date DateKey, reason string) error {
	if err := checkDate(date); err != nil {
		return err
	}
	log := logger.WithTrace(ctx, e.logger).With(
		zap.Int("user_id", userID),
		zap.Int("habit_id", habitID),
		zap.String("date", date.String()),
	)

	h, err := e.store.GetHabit(ctx, userID, habitID)
	if err != nil {
		return err
	}
	if h.Archived {
		return &ValidationError{Field: "habit", Reason: fmt.Sprintf("habit %d is archived", habitID)}
	}

	inserted := false
	err = e.store.InTx(ctx, func(tx Tx) error {
		inserted = false
		done, err := tx.CompletedAmong(ctx, []int{habitID}, date)
		if err != nil {
			return err
		}
		if len(done) > 0 {
			return nil
		}
		err = tx.InsertSkip(ctx, SkipRecord{HabitID: habitID, Date: date, Reason: reason})
		if errors.Is(err, ErrConflictIgnored) {
			return nil
		}
		if err != nil {
			return err
		}
		inserted = true
		return tx.Enqueue(ctx, Event{
			AggregateType: "habit",
			AggregateID:   habitID,
			RoutingKey:    mqcontracts.RoutingKeyHabitSkipped,
			Payload: mqcontracts.HabitSkippedPayload{
				UserID:  userID,
				HabitID: habitID,
				Date:    date.String(),
				Reason:  reason,
				TraceID: trace.FromContext(ctx),
			},
		})
	})
	if err != nil {
		log.Error("SkipHabit failed", zap.Error(err))
		return err
	}

	metrics.RecordSkip(inserted)
	if inserted {
		log.Info("Habit skipped", zap.String("reason", reason))
	} else {
		log.Debug("SkipHabit: nothing to do")
	}
	return nil
}

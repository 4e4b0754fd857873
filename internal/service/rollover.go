package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"habitledger/internal/habit"
)

type UserLister interface {
	ListUserIDs(ctx context.Context) ([]int, error)
}

type ArrearsRefresher interface {
	Refresh(ctx context.Context, userID int, today habit.DateKey) error
}

// Rollover precomputes every user's arrears once the calendar day turns, so
// the first read of the day is served from cache.
type Rollover struct {
	users   UserLister
	arrears ArrearsRefresher
	hour    int
	loc     *time.Location
	now     func() time.Time
	logger  *zap.Logger
}

func NewRollover(users UserLister, arrears ArrearsRefresher, hour int, logger *zap.Logger) *Rollover {
	if hour < 0 || hour > 23 {
		hour = 0
	}
	return &Rollover{
		users:   users,
		arrears: arrears,
		hour:    hour,
		loc:     time.Local,
		now:     time.Now,
		logger:  logger,
	}
}

// Start blocks until ctx is cancelled, running once a day at the configured hour.
func (r *Rollover) Start(ctx context.Context) error {
	for {
		delay := r.nextRun(r.now()).Sub(r.now())
		r.logger.Info("Arrears rollover scheduled", zap.Duration("delay", delay))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			r.logger.Info("Arrears rollover stopped")
			return nil
		case <-timer.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.Error("Arrears rollover failed", zap.Error(err))
			}
		}
	}
}

// nextRun is the next occurrence of hour:00 strictly after now.
func (r *Rollover) nextRun(now time.Time) time.Time {
	now = now.In(r.loc)
	next := time.Date(now.Year(), now.Month(), now.Day(), r.hour, 0, 0, 0, r.loc)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// RunOnce refreshes arrears for every user and returns how many succeeded.
// One user's failure does not stop the others.
func (r *Rollover) RunOnce(ctx context.Context) (int, error) {
	today := habit.DateKeyOf(r.now().In(r.loc))
	start := time.Now()

	ids, err := r.users.ListUserIDs(ctx)
	if err != nil {
		return 0, err
	}

	refreshed := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return refreshed, ctx.Err()
		}
		if err := r.arrears.Refresh(ctx, id, today); err != nil {
			r.logger.Warn("Failed to refresh arrears", zap.Int("user_id", id), zap.Error(err))
			continue
		}
		refreshed++
	}

	r.logger.Info("Arrears rollover completed",
		zap.String("today", today.String()),
		zap.Int("users", len(ids)),
		zap.Int("refreshed", refreshed),
		zap.Duration("took", time.Since(start)),
	)
	return refreshed, nil
}

package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"habitledger/internal/habit"
	"habitledger/pkg/outbox"
)

// habitTx implements habit.Tx on top of one pgx transaction.
type habitTx struct {
	tx     pgx.Tx
	outbox *outbox.Repository
}

var _ habit.Tx = (*habitTx)(nil)

// InsertCompletion 依赖 (habit_id, date) 唯一约束实现幂等
func (t *habitTx) InsertCompletion(ctx context.Context, rec habit.CompletionRecord) error {
	tag, err := t.tx.Exec(ctx, `
        INSERT INTO habit_completions (habit_id, date, note, awarded_points)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (habit_id, date) DO NOTHING
    `, rec.HabitID, rec.Date.Time(), rec.Note, rec.AwardedPoints)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return habit.ErrConflictIgnored
	}
	return nil
}

func (t *habitTx) DeleteCompletion(ctx context.Context, habitID int, date habit.DateKey) (habit.CompletionRecord, bool, error) {
	rec := habit.CompletionRecord{HabitID: habitID, Date: date}
	err := t.tx.QueryRow(ctx, `
        DELETE FROM habit_completions
        WHERE habit_id = $1 AND date = $2
        RETURNING note, awarded_points, created_at
    `, habitID, date.Time()).Scan(&rec.Note, &rec.AwardedPoints, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return habit.CompletionRecord{}, false, nil
	}
	if err != nil {
		return habit.CompletionRecord{}, false, err
	}
	return rec, true, nil
}

func (t *habitTx) CompletedAmong(ctx context.Context, habitIDs []int, date habit.DateKey) ([]int, error) {
	if len(habitIDs) == 0 {
		return nil, nil
	}
	rows, err := t.tx.Query(ctx, `
        SELECT habit_id FROM habit_completions
        WHERE habit_id = ANY($1) AND date = $2
        ORDER BY habit_id
    `, habitIDs, date.Time())
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int])
}

func (t *habitTx) InsertSkip(ctx context.Context, rec habit.SkipRecord) error {
	tag, err := t.tx.Exec(ctx, `
        INSERT INTO habit_skips (habit_id, date, reason)
        VALUES ($1, $2, $3)
        ON CONFLICT (habit_id, date) DO NOTHING
    `, rec.HabitID, rec.Date.Time(), rec.Reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return habit.ErrConflictIgnored
	}
	return nil
}

func (t *habitTx) DeleteSkip(ctx context.Context, habitID int, date habit.DateKey) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM habit_skips WHERE habit_id = $1 AND date = $2`, habitID, date.Time())
	return err
}

func (t *habitTx) AdjustGoalProgress(ctx context.Context, habitID int, delta int) error {
	_, err := t.tx.Exec(ctx, `
        UPDATE habits
        SET goal_progress = LEAST(GREATEST(goal_progress + $2, 0), goal_duration),
            updated_at = NOW()
        WHERE id = $1 AND type = 'goal'
    `, habitID, delta)
	return err
}

// ApplyPoints 调用 apply_points()，等级阈值由数据库函数负责
func (t *habitTx) ApplyPoints(ctx context.Context, userID int, delta int) (habit.AppliedPoints, error) {
	applied := habit.AppliedPoints{Profile: habit.Profile{UserID: userID}}
	err := t.tx.QueryRow(ctx, `
        SELECT out_previous_level, out_level, out_current_points, out_next_level_points
        FROM apply_points($1, $2)
    `, userID, delta).Scan(
		&applied.PreviousLevel,
		&applied.Profile.Level,
		&applied.Profile.CurrentPoints,
		&applied.Profile.NextLevelPoints,
	)
	if err != nil {
		return habit.AppliedPoints{}, err
	}
	return applied, nil
}

func (t *habitTx) Enqueue(ctx context.Context, e habit.Event) error {
	return outbox.InsertEventInTx(ctx, t.tx, t.outbox,
		e.AggregateType,
		int64(e.AggregateID),
		e.RoutingKey,
		e.Payload,
	)
}

// dayOf is the inverse of DateKey.Time for values scanned from DATE columns.
func dayOf(t time.Time) habit.DateKey {
	return habit.DateKeyOf(t.UTC())
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"habitledger/internal/habit"
	"habitledger/pkg/circuitbreaker"
	"habitledger/pkg/metrics"
	"habitledger/pkg/outbox"
	"habitledger/pkg/util"
)

const breakerName = "postgres"

// Default profile for a user that has never earned points; matches the
// column defaults of gamification_profiles.
const (
	defaultLevel           = 1
	defaultNextLevelPoints = 100
)

// HabitRepository is the PostgreSQL implementation of habit.Store.
type HabitRepository struct {
	db      *pgxpool.Pool
	outbox  *outbox.Repository
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

var _ habit.Store = (*HabitRepository)(nil)

func NewHabitRepository(db *pgxpool.Pool, logger *zap.Logger) *HabitRepository {
	cfg := circuitbreaker.DefaultConfig()
	cfg.IsFailure = func(err error) bool {
		retryable, _ := util.IsRetryableError(err)
		return retryable
	}
	cfg.OnStateChange = func(from, to circuitbreaker.State) {
		logger.Warn("Circuit breaker state changed",
			zap.String("name", breakerName),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
		metrics.SetCircuitBreakerState(breakerName, int(to))
	}
	return &HabitRepository{
		db:      db,
		outbox:  outbox.NewRepository(db),
		breaker: circuitbreaker.NewCircuitBreaker(cfg),
		logger:  logger,
	}
}

// do runs fn through the circuit breaker and classifies its error.
func (r *HabitRepository) do(op string, fn func() error) error {
	return classify(op, r.breaker.Execute(fn))
}

const habitColumns = `id, user_id, title, category, time_of_day, frequency, type,
	goal_progress, goal_duration, priority, archived, created_at`

func scanHabit(row pgx.Row) (habit.Habit, error) {
	var h habit.Habit
	var freq []int
	err := row.Scan(
		&h.ID,
		&h.UserID,
		&h.Title,
		&h.Category,
		&h.TimeOfDay,
		&freq,
		&h.Type,
		&h.GoalProgress,
		&h.GoalDuration,
		&h.Priority,
		&h.Archived,
		&h.CreatedAt,
	)
	h.Frequency = habit.Frequency(freq)
	return h, err
}

func (r *HabitRepository) CreateHabit(ctx context.Context, h *habit.Habit) error {
	r.logger.Debug("Inserting habit",
		zap.Int("user_id", h.UserID),
		zap.String("title", h.Title),
		zap.Ints("frequency", h.Frequency),
	)

	query := `
        INSERT INTO habits (user_id, title, category, time_of_day, frequency, type, goal_duration, priority)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING id, goal_progress, archived, created_at
    `
	err := r.do("create habit", func() error {
		return r.db.QueryRow(ctx, query,
			h.UserID,
			h.Title,
			h.Category,
			h.TimeOfDay,
			[]int(h.Frequency),
			string(h.Type),
			h.GoalDuration,
			h.Priority,
		).Scan(&h.ID, &h.GoalProgress, &h.Archived, &h.CreatedAt)
	})
	if err != nil {
		r.logger.Error("Failed to insert habit", zap.Error(err))
		return err
	}

	r.logger.Info("Habit inserted successfully",
		zap.Int("id", h.ID),
		zap.Int("user_id", h.UserID),
	)
	return nil
}

func (r *HabitRepository) UpdateHabit(ctx context.Context, h habit.Habit) error {
	query := `
        UPDATE habits
        SET title = $3, category = $4, time_of_day = $5, frequency = $6,
            goal_duration = $7, goal_progress = LEAST(goal_progress, $7), priority = $8,
            updated_at = NOW()
        WHERE id = $1 AND user_id = $2
    `
	var affected int64
	err := r.do("update habit", func() error {
		tag, err := r.db.Exec(ctx, query,
			h.ID,
			h.UserID,
			h.Title,
			h.Category,
			h.TimeOfDay,
			[]int(h.Frequency),
			h.GoalDuration,
			h.Priority,
		)
		affected = tag.RowsAffected()
		return err
	})
	if err != nil {
		r.logger.Error("Failed to update habit", zap.Int("habit_id", h.ID), zap.Error(err))
		return err
	}
	if affected == 0 {
		return notFound("habit", h.ID)
	}
	return nil
}

func (r *HabitRepository) ArchiveHabit(ctx context.Context, userID, habitID int) error {
	var affected int64
	err := r.do("archive habit", func() error {
		tag, err := r.db.Exec(ctx, `
            UPDATE habits SET archived = TRUE, updated_at = NOW()
            WHERE id = $1 AND user_id = $2
        `, habitID, userID)
		affected = tag.RowsAffected()
		return err
	})
	if err != nil {
		r.logger.Error("Failed to archive habit", zap.Int("habit_id", habitID), zap.Error(err))
		return err
	}
	if affected == 0 {
		return notFound("habit", habitID)
	}
	return nil
}

func (r *HabitRepository) GetHabit(ctx context.Context, userID, habitID int) (habit.Habit, error) {
	var h habit.Habit
	err := r.do("get habit", func() error {
		var err error
		h, err = scanHabit(r.db.QueryRow(ctx,
			`SELECT `+habitColumns+` FROM habits WHERE id = $1 AND user_id = $2`,
			habitID, userID,
		))
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return habit.Habit{}, notFound("habit", habitID)
	}
	if err != nil {
		r.logger.Error("Failed to get habit", zap.Int("habit_id", habitID), zap.Error(err))
		return habit.Habit{}, err
	}
	return h, nil
}

// ListHabits includes archived habits; callers filter.
func (r *HabitRepository) ListHabits(ctx context.Context, userID int) ([]habit.Habit, error) {
	r.logger.Debug("Listing habits for user", zap.Int("user_id", userID))

	habits := []habit.Habit{}
	err := r.do("list habits", func() error {
		rows, err := r.db.Query(ctx,
			`SELECT `+habitColumns+` FROM habits WHERE user_id = $1 ORDER BY id`,
			userID,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		habits = habits[:0]
		for rows.Next() {
			h, err := scanHabit(rows)
			if err != nil {
				return err
			}
			habits = append(habits, h)
		}
		return rows.Err()
	})
	if err != nil {
		r.logger.Error("Failed to list habits", zap.Int("user_id", userID), zap.Error(err))
		return nil, err
	}

	r.logger.Debug("Listed habits",
		zap.Int("user_id", userID),
		zap.Int("count", len(habits)),
	)
	return habits, nil
}

// ListUserIDs returns every user owning at least one active habit.
func (r *HabitRepository) ListUserIDs(ctx context.Context) ([]int, error) {
	var ids []int
	err := r.do("list users", func() error {
		rows, err := r.db.Query(ctx, `SELECT DISTINCT user_id FROM habits WHERE NOT archived ORDER BY user_id`)
		if err != nil {
			return err
		}
		ids, err = pgx.CollectRows(rows, pgx.RowTo[int])
		return err
	})
	if err != nil {
		r.logger.Error("Failed to list users", zap.Error(err))
		return nil, err
	}
	return ids, nil
}

func (r *HabitRepository) ListLinks(ctx context.Context, userID int) ([]habit.Link, error) {
	query := `
        SELECT l.source_habit_id, l.target_habit_id, l.type, COALESCE(l.metadata, '{}'::jsonb)
        FROM habit_links l
        JOIN habits h ON h.id = l.source_habit_id
        WHERE h.user_id = $1
        ORDER BY l.source_habit_id, l.target_habit_id, l.type
    `
	links := []habit.Link{}
	err := r.do("list links", func() error {
		rows, err := r.db.Query(ctx, query, userID)
		if err != nil {
			return err
		}
		defer rows.Close()

		links = links[:0]
		for rows.Next() {
			var l habit.Link
			if err := rows.Scan(&l.SourceHabitID, &l.TargetHabitID, &l.Type, &l.Metadata); err != nil {
				return err
			}
			links = append(links, l)
		}
		return rows.Err()
	})
	if err != nil {
		r.logger.Error("Failed to list links", zap.Int("user_id", userID), zap.Error(err))
		return nil, err
	}
	return links, nil
}

// ReplaceLinks deletes the habit's outgoing links and inserts the new set in
// one transaction.
func (r *HabitRepository) ReplaceLinks(ctx context.Context, userID, habitID int, links []habit.Link) error {
	err := r.do("replace links", func() error {
		return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, `
                DELETE FROM habit_links l
                USING habits h
                WHERE h.id = l.source_habit_id AND h.user_id = $1 AND l.source_habit_id = $2
            `, userID, habitID); err != nil {
				return err
			}
			batch := &pgx.Batch{}
			for _, l := range links {
				batch.Queue(`
                    INSERT INTO habit_links (source_habit_id, target_habit_id, type, metadata)
                    VALUES ($1, $2, $3, $4)
                    ON CONFLICT DO NOTHING
                `, habitID, l.TargetHabitID, string(l.Type), l.Metadata)
			}
			return tx.SendBatch(ctx, batch).Close()
		})
	})
	if err != nil {
		r.logger.Error("Failed to replace links", zap.Int("habit_id", habitID), zap.Error(err))
		return err
	}
	return nil
}

func (r *HabitRepository) ListCompletions(ctx context.Context, userID int, from, to habit.DateKey) ([]habit.CompletionRecord, error) {
	query := `
        SELECT c.habit_id, c.date, c.note, c.awarded_points, c.created_at
        FROM habit_completions c
        JOIN habits h ON h.id = c.habit_id
        WHERE h.user_id = $1 AND c.date >= $2 AND c.date < $3
        ORDER BY c.date, c.habit_id
    `
	recs := []habit.CompletionRecord{}
	err := r.do("list completions", func() error {
		rows, err := r.db.Query(ctx, query, userID, from.Time(), to.Time())
		if err != nil {
			return err
		}
		defer rows.Close()

		recs = recs[:0]
		for rows.Next() {
			var rec habit.CompletionRecord
			var day time.Time
			if err := rows.Scan(&rec.HabitID, &day, &rec.Note, &rec.AwardedPoints, &rec.CreatedAt); err != nil {
				return err
			}
			rec.Date = dayOf(day)
			recs = append(recs, rec)
		}
		return rows.Err()
	})
	if err != nil {
		r.logger.Error("Failed to list completions", zap.Int("user_id", userID), zap.Error(err))
		return nil, err
	}
	return recs, nil
}

func (r *HabitRepository) ListSkips(ctx context.Context, userID int, from, to habit.DateKey) ([]habit.SkipRecord, error) {
	query := `
        SELECT s.habit_id, s.date, s.reason, s.created_at
        FROM habit_skips s
        JOIN habits h ON h.id = s.habit_id
        WHERE h.user_id = $1 AND s.date >= $2 AND s.date < $3
        ORDER BY s.date, s.habit_id
    `
	recs := []habit.SkipRecord{}
	err := r.do("list skips", func() error {
		rows, err := r.db.Query(ctx, query, userID, from.Time(), to.Time())
		if err != nil {
			return err
		}
		defer rows.Close()

		recs = recs[:0]
		for rows.Next() {
			var rec habit.SkipRecord
			var day time.Time
			if err := rows.Scan(&rec.HabitID, &day, &rec.Reason, &rec.CreatedAt); err != nil {
				return err
			}
			rec.Date = dayOf(day)
			recs = append(recs, rec)
		}
		return rows.Err()
	})
	if err != nil {
		r.logger.Error("Failed to list skips", zap.Int("user_id", userID), zap.Error(err))
		return nil, err
	}
	return recs, nil
}

func (r *HabitRepository) UpdateNote(ctx context.Context, habitID int, date habit.DateKey, note string) error {
	var affected int64
	err := r.do("update note", func() error {
		tag, err := r.db.Exec(ctx, `
            UPDATE habit_completions SET note = $3
            WHERE habit_id = $1 AND date = $2
        `, habitID, date.Time(), note)
		affected = tag.RowsAffected()
		return err
	})
	if err != nil {
		r.logger.Error("Failed to update note", zap.Int("habit_id", habitID), zap.Error(err))
		return err
	}
	if affected == 0 {
		return &habit.NotFoundError{Entity: "completion", Key: fmt.Sprintf("%d@%s", habitID, date)}
	}
	return nil
}

// GetProfile returns the default level-1 profile for users with no row yet.
func (r *HabitRepository) GetProfile(ctx context.Context, userID int) (habit.Profile, error) {
	p := habit.Profile{UserID: userID}
	err := r.do("get profile", func() error {
		return r.db.QueryRow(ctx, `
            SELECT level, current_points, next_level_points
            FROM gamification_profiles WHERE user_id = $1
        `, userID).Scan(&p.Level, &p.CurrentPoints, &p.NextLevelPoints)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return habit.Profile{UserID: userID, Level: defaultLevel, NextLevelPoints: defaultNextLevelPoints}, nil
	}
	if err != nil {
		r.logger.Error("Failed to get profile", zap.Int("user_id", userID), zap.Error(err))
		return habit.Profile{}, err
	}
	return p, nil
}

// InTx runs fn inside a single PostgreSQL transaction.
func (r *HabitRepository) InTx(ctx context.Context, fn func(tx habit.Tx) error) error {
	return r.do("transaction", func() error {
		return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
			return fn(&habitTx{tx: tx, outbox: r.outbox})
		})
	})
}

// Ping is used by the readiness probe.
func (r *HabitRepository) Ping(ctx context.Context) error {
	return r.do("ping", func() error { return r.db.Ping(ctx) })
}

func notFound(entity string, id int) error {
	return &habit.NotFoundError{Entity: entity, Key: fmt.Sprintf("%d", id)}
}

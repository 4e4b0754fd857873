package habit

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"habitledger/pkg/logger"
)

const DefaultArrearsWindowDays = 30

type Config struct {
	BaseReward        int
	SynergyBonus      int
	ArrearsWindowDays int
	// EnforceLocks rejects completing a habit whose prerequisites are not
	// done on the same day.
	EnforceLocks bool
}

func DefaultConfig() Config {
	return Config{
		BaseReward:        DefaultBaseReward,
		SynergyBonus:      DefaultSynergyBonus,
		ArrearsWindowDays: DefaultArrearsWindowDays,
		EnforceLocks:      true,
	}
}

// Engine composes the recurrence resolver, dependency graph, completion
// ledger, gamification ledger, skip registry and backlog reconciler over a
// Store. Every call is synchronous request/response.
type Engine struct {
	store   Store
	cfg     Config
	rewards Rewards
	logger  *zap.Logger
}

func NewEngine(store Store, cfg Config, logger *zap.Logger) *Engine {
	if cfg.ArrearsWindowDays <= 0 {
		cfg.ArrearsWindowDays = DefaultArrearsWindowDays
	}
	return &Engine{
		store:   store,
		cfg:     cfg,
		rewards: Rewards{Base: cfg.BaseReward, SynergyBonus: cfg.SynergyBonus},
		logger:  logger,
	}
}

func (e *Engine) Config() Config { return e.cfg }

// ListHabits returns the user's active habits augmented with their state
// on date: completed, skipped, locked and resolved links.
func (e *Engine) ListHabits(ctx context.Context, userID int, date DateKey) ([]HabitView, error) {
	if err := checkDate(date); err != nil {
		return nil, err
	}
	log := logger.WithTrace(ctx, e.logger)

	habits, err := e.store.ListHabits(ctx, userID)
	if err != nil {
		log.Error("Failed to list habits", zap.Int("user_id", userID), zap.Error(err))
		return nil, err
	}
	links, err := e.store.ListLinks(ctx, userID)
	if err != nil {
		log.Error("Failed to list habit links", zap.Int("user_id", userID), zap.Error(err))
		return nil, err
	}
	completions, err := e.store.ListCompletions(ctx, userID, date, date.AddDays(1))
	if err != nil {
		log.Error("Failed to list completions", zap.Int("user_id", userID), zap.Error(err))
		return nil, err
	}
	skips, err := e.store.ListSkips(ctx, userID, date, date.AddDays(1))
	if err != nil {
		log.Error("Failed to list skips", zap.Int("user_id", userID), zap.Error(err))
		return nil, err
	}

	todays := make(CompletionSet, len(completions))
	for _, c := range completions {
		todays[c.HabitID] = true
	}
	skipped := make(map[int]bool, len(skips))
	for _, s := range skips {
		skipped[s.HabitID] = true
	}

	g := NewGraph(links, habits)
	views := make([]HabitView, 0, len(habits))
	for _, h := range habits {
		if h.Archived {
			continue
		}
		lock := g.LockStatus(h.ID, todays)
		views = append(views, HabitView{
			Habit:          h,
			CompletedToday: todays[h.ID],
			SkippedToday:   skipped[h.ID],
			IsLocked:       lock.Locked,
			BlockedBy:      lock.BlockedBy,
			Links:          g.Links(h.ID),
		})
	}
	sort.SliceStable(views, func(i, j int) bool {
		return views[i].Priority > views[j].Priority
	})

	log.Debug("Listed habits",
		zap.Int("user_id", userID),
		zap.String("date", date.String()),
		zap.Int("count", len(views)),
	)
	return views, nil
}

func (e *Engine) GetProfile(ctx context.Context, userID int) (Profile, error) {
	p, err := e.store.GetProfile(ctx, userID)
	if err != nil {
		logger.WithTrace(ctx, e.logger).Error("Failed to get profile", zap.Int("user_id", userID), zap.Error(err))
		return Profile{}, err
	}
	return p, nil
}

// CreateHabit validates and stores a new habit.
func (e *Engine) CreateHabit(ctx context.Context, h *Habit) error {
	if err := validateHabit(h); err != nil {
		return err
	}
	h.Frequency = h.Frequency.Normalized()
	h.GoalProgress = 0
	h.Archived = false
	if err := e.store.CreateHabit(ctx, h); err != nil {
		logger.WithTrace(ctx, e.logger).Error("Failed to create habit", zap.Int("user_id", h.UserID), zap.Error(err))
		return err
	}
	logger.WithTrace(ctx, e.logger).Info("Habit created",
		zap.Int("habit_id", h.ID),
		zap.Int("user_id", h.UserID),
		zap.String("title", h.Title),
	)
	return nil
}

// HabitPatch carries the editable fields; nil means unchanged.
type HabitPatch struct {
	Title        *string    `json:"title"`
	Category     *string    `json:"category"`
	TimeOfDay    *string    `json:"time_of_day"`
	Frequency    *Frequency `json:"frequency"`
	Priority     *int       `json:"priority"`
	GoalDuration *int       `json:"goal_duration"`
}

func (e *Engine) UpdateHabit(ctx context.Context, userID, habitID int, patch HabitPatch) (Habit, error) {
	h, err := e.store.GetHabit(ctx, userID, habitID)
	if err != nil {
		return Habit{}, err
	}
	if h.Archived {
		return Habit{}, &ValidationError{Field: "habit", Reason: "archived habits cannot be edited"}
	}
	if patch.Title != nil {
		h.Title = *patch.Title
	}
	if patch.Category != nil {
		h.Category = *patch.Category
	}
	if patch.TimeOfDay != nil {
		h.TimeOfDay = *patch.TimeOfDay
	}
	if patch.Frequency != nil {
		h.Frequency = *patch.Frequency
	}
	if patch.Priority != nil {
		h.Priority = *patch.Priority
	}
	if patch.GoalDuration != nil {
		h.GoalDuration = *patch.GoalDuration
		if h.GoalProgress > h.GoalDuration {
			h.GoalProgress = h.GoalDuration
		}
	}
	if err := validateHabit(&h); err != nil {
		return Habit{}, err
	}
	h.Frequency = h.Frequency.Normalized()
	if err := e.store.UpdateHabit(ctx, h); err != nil {
		logger.WithTrace(ctx, e.logger).Error("Failed to update habit", zap.Int("habit_id", habitID), zap.Error(err))
		return Habit{}, err
	}
	return h, nil
}

// ReplaceLinks swaps the habit's outgoing link set wholesale.
func (e *Engine) ReplaceLinks(ctx context.Context, userID, habitID int, links []Link) error {
	if err := ValidateLinks(habitID, links); err != nil {
		return err
	}
	habits, err := e.store.ListHabits(ctx, userID)
	if err != nil {
		return err
	}
	owned := make(map[int]bool, len(habits))
	for _, h := range habits {
		owned[h.ID] = true
	}
	if !owned[habitID] {
		return habitNotFound(habitID)
	}
	for _, l := range links {
		if !owned[l.TargetHabitID] {
			return habitNotFound(l.TargetHabitID)
		}
	}
	if err := e.store.ReplaceLinks(ctx, userID, habitID, links); err != nil {
		logger.WithTrace(ctx, e.logger).Error("Failed to replace links", zap.Int("habit_id", habitID), zap.Error(err))
		return err
	}
	logger.WithTrace(ctx, e.logger).Info("Habit links replaced",
		zap.Int("habit_id", habitID),
		zap.Int("count", len(links)),
	)
	return nil
}

// ArchiveHabit is the terminal soft-disable: the habit leaves scheduling,
// locking and arrears.
func (e *Engine) ArchiveHabit(ctx context.Context, userID, habitID int) error {
	if err := e.store.ArchiveHabit(ctx, userID, habitID); err != nil {
		return err
	}
	logger.WithTrace(ctx, e.logger).Info("Habit archived", zap.Int("habit_id", habitID), zap.Int("user_id", userID))
	return nil
}

func validateHabit(h *Habit) error {
	if strings.TrimSpace(h.Title) == "" {
		return &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if err := h.Frequency.Validate(); err != nil {
		return err
	}
	switch h.Type {
	case "":
		h.Type = TypeRitual
	case TypeRitual, TypeGoal:
	default:
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown habit type %q", h.Type)}
	}
	if h.Type == TypeGoal {
		if h.GoalDuration <= 0 {
			return &ValidationError{Field: "goal_duration", Reason: "goal habits need a positive duration"}
		}
		if h.GoalProgress > h.GoalDuration {
			return &ValidationError{Field: "goal_progress", Reason: "progress exceeds duration"}
		}
	} else {
		h.GoalDuration = 0
		h.GoalProgress = 0
	}
	return nil
}

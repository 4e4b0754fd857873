package habit

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"habitledger/pkg/logger"
	"habitledger/pkg/metrics"
)

// Window is a half-open range of calendar days [Start, End).
type Window struct {
	Start DateKey
	End   DateKey
}

type dayKey struct {
	habitID int
	date    DateKey
}

// Reconcile reconstructs missed obligations. For each non-archived habit it
// walks the days from max(window.Start, created day) up to but excluding
// min(window.End, today), emitting an entry for every scheduled day that has
// neither a completion nor a skip. Entries come back most recent first.
//
// Cost is O(habits x window days); callers keep the window short.
func Reconcile(habits []Habit, completions []CompletionRecord, skips []SkipRecord, w Window, today DateKey) []ArrearEntry {
	satisfied := make(map[dayKey]bool, len(completions)+len(skips))
	for _, c := range completions {
		satisfied[dayKey{c.HabitID, c.Date}] = true
	}
	for _, s := range skips {
		satisfied[dayKey{s.HabitID, s.Date}] = true
	}

	end := minDate(w.End, today)
	entries := []ArrearEntry{}
	for _, h := range habits {
		if h.Archived {
			continue
		}
		for d := maxDate(w.Start, h.StartDate()); d.Before(end); d = d.AddDays(1) {
			if !IsScheduled(h, d) || satisfied[dayKey{h.ID, d}] {
				continue
			}
			entries = append(entries, ArrearEntry{
				HabitID:  h.ID,
				Title:    h.Title,
				Date:     d,
				Priority: h.Priority,
			})
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Date != b.Date {
			return a.Date.After(b.Date)
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.HabitID < b.HabitID
	})
	return entries
}

// ArrearsWindow is the trailing window ending at today.
func (e *Engine) ArrearsWindow(today DateKey) Window {
	return Window{Start: today.AddDays(-e.cfg.ArrearsWindowDays), End: today}
}

// ListArrears rescans the trailing window for the user. Read-only; a write
// landing mid-scan may or may not be reflected.
func (e *Engine) ListArrears(ctx context.Context, userID int, today DateKey) ([]ArrearEntry, error) {
	if err := checkDate(today); err != nil {
		return nil, err
	}
	start := time.Now()
	log := logger.WithTrace(ctx, e.logger)
	w := e.ArrearsWindow(today)

	habits, err := e.store.ListHabits(ctx, userID)
	if err != nil {
		log.Error("ListArrears: failed to list habits", zap.Int("user_id", userID), zap.Error(err))
		return nil, err
	}
	completions, err := e.store.ListCompletions(ctx, userID, w.Start, w.End)
	if err != nil {
		log.Error("ListArrears: failed to list completions", zap.Int("user_id", userID), zap.Error(err))
		return nil, err
	}
	skips, err := e.store.ListSkips(ctx, userID, w.Start, w.End)
	if err != nil {
		log.Error("ListArrears: failed to list skips", zap.Int("user_id", userID), zap.Error(err))
		return nil, err
	}

	entries := Reconcile(habits, completions, skips, w, today)
	metrics.RecordArrearsScan(len(entries), time.Since(start))
	log.Debug("Arrears reconciled",
		zap.Int("user_id", userID),
		zap.String("today", today.String()),
		zap.Int("habits", len(habits)),
		zap.Int("arrears", len(entries)),
	)
	return entries, nil
}

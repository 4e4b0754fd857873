package habit

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"
)

type recKey struct {
	habitID int
	date    DateKey
}

type memState struct {
	habits      map[int]Habit
	links       []Link
	completions map[recKey]CompletionRecord
	skips       map[recKey]SkipRecord
	profiles    map[int]Profile
	events      []Event
}

func (s memState) clone() memState {
	c := memState{
		habits:      make(map[int]Habit, len(s.habits)),
		links:       append([]Link(nil), s.links...),
		completions: make(map[recKey]CompletionRecord, len(s.completions)),
		skips:       make(map[recKey]SkipRecord, len(s.skips)),
		profiles:    make(map[int]Profile, len(s.profiles)),
		events:      append([]Event(nil), s.events...),
	}
	for k, v := range s.habits {
		c.habits[k] = v
	}
	for k, v := range s.completions {
		c.completions[k] = v
	}
	for k, v := range s.skips {
		c.skips[k] = v
	}
	for k, v := range s.profiles {
		c.profiles[k] = v
	}
	return c
}

// memStore is an in-memory Store. Transactions work on a copy that is
// swapped in only when fn succeeds. failOn injects an error for the named
// method.
type memStore struct {
	state  memState
	nextID int
	failOn map[string]error
	now    time.Time
}

func newMemStore() *memStore {
	return &memStore{
		state: memState{
			habits:      map[int]Habit{},
			completions: map[recKey]CompletionRecord{},
			skips:       map[recKey]SkipRecord{},
			profiles:    map[int]Profile{},
		},
		failOn: map[string]error{},
		now:    time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (m *memStore) fail(method string) error {
	return m.failOn[method]
}

// addHabit seeds a habit directly, bypassing validation.
func (m *memStore) addHabit(h Habit) Habit {
	if h.ID == 0 {
		m.nextID++
		h.ID = m.nextID
	} else if h.ID > m.nextID {
		m.nextID = h.ID
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = m.now
	}
	if h.Type == "" {
		h.Type = TypeRitual
	}
	m.state.habits[h.ID] = h
	return h
}

func (m *memStore) addLink(src, dst int, typ LinkType) {
	m.state.links = append(m.state.links, Link{SourceHabitID: src, TargetHabitID: dst, Type: typ})
}

func (m *memStore) addCompletion(habitID int, date DateKey, awarded int) {
	m.state.completions[recKey{habitID, date}] = CompletionRecord{HabitID: habitID, Date: date, AwardedPoints: awarded}
}

func (m *memStore) addSkip(habitID int, date DateKey) {
	m.state.skips[recKey{habitID, date}] = SkipRecord{HabitID: habitID, Date: date}
}

func (m *memStore) profile(userID int) Profile {
	if p, ok := m.state.profiles[userID]; ok {
		return p
	}
	return Profile{UserID: userID, Level: 1, NextLevelPoints: levelThreshold(1)}
}

func (m *memStore) CreateHabit(ctx context.Context, h *Habit) error {
	if err := m.fail("CreateHabit"); err != nil {
		return err
	}
	*h = m.addHabit(*h)
	return nil
}

func (m *memStore) UpdateHabit(ctx context.Context, h Habit) error {
	if err := m.fail("UpdateHabit"); err != nil {
		return err
	}
	old, ok := m.state.habits[h.ID]
	if !ok || old.UserID != h.UserID {
		return habitNotFound(h.ID)
	}
	m.state.habits[h.ID] = h
	return nil
}

func (m *memStore) ArchiveHabit(ctx context.Context, userID, habitID int) error {
	if err := m.fail("ArchiveHabit"); err != nil {
		return err
	}
	h, ok := m.state.habits[habitID]
	if !ok || h.UserID != userID {
		return habitNotFound(habitID)
	}
	h.Archived = true
	m.state.habits[habitID] = h
	return nil
}

func (m *memStore) GetHabit(ctx context.Context, userID, habitID int) (Habit, error) {
	if err := m.fail("GetHabit"); err != nil {
		return Habit{}, err
	}
	h, ok := m.state.habits[habitID]
	if !ok || h.UserID != userID {
		return Habit{}, habitNotFound(habitID)
	}
	return h, nil
}

func (m *memStore) ListHabits(ctx context.Context, userID int) ([]Habit, error) {
	if err := m.fail("ListHabits"); err != nil {
		return nil, err
	}
	out := []Habit{}
	for _, h := range m.state.habits {
		if h.UserID == userID {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) ListLinks(ctx context.Context, userID int) ([]Link, error) {
	if err := m.fail("ListLinks"); err != nil {
		return nil, err
	}
	out := []Link{}
	for _, l := range m.state.links {
		if h, ok := m.state.habits[l.SourceHabitID]; ok && h.UserID == userID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *memStore) ReplaceLinks(ctx context.Context, userID, habitID int, links []Link) error {
	if err := m.fail("ReplaceLinks"); err != nil {
		return err
	}
	kept := m.state.links[:0:0]
	for _, l := range m.state.links {
		if l.SourceHabitID != habitID {
			kept = append(kept, l)
		}
	}
	m.state.links = append(kept, links...)
	return nil
}

func (m *memStore) ListCompletions(ctx context.Context, userID int, from, to DateKey) ([]CompletionRecord, error) {
	if err := m.fail("ListCompletions"); err != nil {
		return nil, err
	}
	out := []CompletionRecord{}
	for k, c := range m.state.completions {
		h, ok := m.state.habits[k.habitID]
		if ok && h.UserID == userID && !k.date.Before(from) && k.date.Before(to) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memStore) ListSkips(ctx context.Context, userID int, from, to DateKey) ([]SkipRecord, error) {
	if err := m.fail("ListSkips"); err != nil {
		return nil, err
	}
	out := []SkipRecord{}
	for k, s := range m.state.skips {
		h, ok := m.state.habits[k.habitID]
		if ok && h.UserID == userID && !k.date.Before(from) && k.date.Before(to) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStore) UpdateNote(ctx context.Context, habitID int, date DateKey, note string) error {
	if err := m.fail("UpdateNote"); err != nil {
		return err
	}
	k := recKey{habitID, date}
	c, ok := m.state.completions[k]
	if !ok {
		return &NotFoundError{Entity: "completion", Key: fmt.Sprintf("%d@%s", habitID, date)}
	}
	c.Note = note
	m.state.completions[k] = c
	return nil
}

func (m *memStore) GetProfile(ctx context.Context, userID int) (Profile, error) {
	if err := m.fail("GetProfile"); err != nil {
		return Profile{}, err
	}
	return m.profile(userID), nil
}

func (m *memStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := m.fail("InTx"); err != nil {
		return err
	}
	tx := &memTx{store: m, state: m.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	m.state = tx.state
	return nil
}

type memTx struct {
	store *memStore
	state memState
}

func (t *memTx) InsertCompletion(ctx context.Context, rec CompletionRecord) error {
	if err := t.store.fail("InsertCompletion"); err != nil {
		return err
	}
	k := recKey{rec.HabitID, rec.Date}
	if _, ok := t.state.completions[k]; ok {
		return ErrConflictIgnored
	}
	t.state.completions[k] = rec
	return nil
}

func (t *memTx) DeleteCompletion(ctx context.Context, habitID int, date DateKey) (CompletionRecord, bool, error) {
	if err := t.store.fail("DeleteCompletion"); err != nil {
		return CompletionRecord{}, false, err
	}
	k := recKey{habitID, date}
	rec, ok := t.state.completions[k]
	if !ok {
		return CompletionRecord{}, false, nil
	}
	delete(t.state.completions, k)
	return rec, true, nil
}

func (t *memTx) CompletedAmong(ctx context.Context, habitIDs []int, date DateKey) ([]int, error) {
	if err := t.store.fail("CompletedAmong"); err != nil {
		return nil, err
	}
	var out []int
	for _, id := range habitIDs {
		if _, ok := t.state.completions[recKey{id, date}]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (t *memTx) InsertSkip(ctx context.Context, rec SkipRecord) error {
	if err := t.store.fail("InsertSkip"); err != nil {
		return err
	}
	k := recKey{rec.HabitID, rec.Date}
	if _, ok := t.state.skips[k]; ok {
		return ErrConflictIgnored
	}
	t.state.skips[k] = rec
	return nil
}

func (t *memTx) DeleteSkip(ctx context.Context, habitID int, date DateKey) error {
	if err := t.store.fail("DeleteSkip"); err != nil {
		return err
	}
	delete(t.state.skips, recKey{habitID, date})
	return nil
}

func (t *memTx) AdjustGoalProgress(ctx context.Context, habitID int, delta int) error {
	if err := t.store.fail("AdjustGoalProgress"); err != nil {
		return err
	}
	h := t.state.habits[habitID]
	h.GoalProgress += delta
	if h.GoalProgress < 0 {
		h.GoalProgress = 0
	}
	if h.GoalProgress > h.GoalDuration {
		h.GoalProgress = h.GoalDuration
	}
	t.state.habits[habitID] = h
	return nil
}

// ApplyPoints mirrors the apply_points SQL function.
func (t *memTx) ApplyPoints(ctx context.Context, userID int, delta int) (AppliedPoints, error) {
	if err := t.store.fail("ApplyPoints"); err != nil {
		return AppliedPoints{}, err
	}
	p, ok := t.state.profiles[userID]
	if !ok {
		p = Profile{UserID: userID, Level: 1, NextLevelPoints: levelThreshold(1)}
	}
	prev := p.Level
	p.CurrentPoints += delta
	for p.CurrentPoints >= p.NextLevelPoints {
		p.CurrentPoints -= p.NextLevelPoints
		p.Level++
		p.NextLevelPoints = levelThreshold(p.Level)
	}
	for p.CurrentPoints < 0 && p.Level > 1 {
		p.Level--
		p.NextLevelPoints = levelThreshold(p.Level)
		p.CurrentPoints += p.NextLevelPoints
	}
	if p.CurrentPoints < 0 {
		p.CurrentPoints = 0
	}
	t.state.profiles[userID] = p
	return AppliedPoints{Profile: p, PreviousLevel: prev}, nil
}

func (t *memTx) Enqueue(ctx context.Context, e Event) error {
	if err := t.store.fail("Enqueue"); err != nil {
		return err
	}
	t.state.events = append(t.state.events, e)
	return nil
}

func levelThreshold(level int) int {
	return int(math.Floor(100 * math.Pow(1.5, float64(level-1))))
}

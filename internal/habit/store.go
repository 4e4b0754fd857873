package habit

import "context"

// Store is the persistence collaborator: a row store with a uniqueness
// constraint on (habit_id, date) for completions and skips, and an atomic
// signed increment on profile points.
//
// Date ranges are half-open: [from, to).
type Store interface {
	CreateHabit(ctx context.Context, h *Habit) error
	UpdateHabit(ctx context.Context, h Habit) error
	ArchiveHabit(ctx context.Context, userID, habitID int) error
	GetHabit(ctx context.Context, userID, habitID int) (Habit, error)
	ListHabits(ctx context.Context, userID int) ([]Habit, error)

	ListLinks(ctx context.Context, userID int) ([]Link, error)
	ReplaceLinks(ctx context.Context, userID, habitID int, links []Link) error

	ListCompletions(ctx context.Context, userID int, from, to DateKey) ([]CompletionRecord, error)
	ListSkips(ctx context.Context, userID int, from, to DateKey) ([]SkipRecord, error)
	UpdateNote(ctx context.Context, habitID int, date DateKey, note string) error

	GetProfile(ctx context.Context, userID int) (Profile, error)

	// InTx runs fn in a single store transaction. fn's error rolls it back.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of writes that must land together.
type Tx interface {
	// InsertCompletion returns ErrConflictIgnored if a record already exists.
	InsertCompletion(ctx context.Context, rec CompletionRecord) error
	// DeleteCompletion returns the deleted record, or found=false if absent.
	DeleteCompletion(ctx context.Context, habitID int, date DateKey) (rec CompletionRecord, found bool, err error)
	// CompletedAmong returns the subset of habitIDs with a completion on date.
	CompletedAmong(ctx context.Context, habitIDs []int, date DateKey) ([]int, error)

	// InsertSkip returns ErrConflictIgnored if a record already exists.
	InsertSkip(ctx context.Context, rec SkipRecord) error
	DeleteSkip(ctx context.Context, habitID int, date DateKey) error

	// AdjustGoalProgress moves goal_progress by delta, clamped to [0, goal_duration].
	AdjustGoalProgress(ctx context.Context, habitID int, delta int) error
	// ApplyPoints atomically adds delta to the user's points. Level
	// transitions happen inside the store and are reported, not computed.
	ApplyPoints(ctx context.Context, userID int, delta int) (AppliedPoints, error)

	Enqueue(ctx context.Context, e Event) error
}

// Event is an integration event written in the same transaction as the
// state change it describes.
type Event struct {
	AggregateType string
	AggregateID   int
	RoutingKey    string
	Payload       any
}

type AppliedPoints struct {
	Profile       Profile
	PreviousLevel int
}

func (a AppliedPoints) LevelChanged() bool {
	return a.PreviousLevel != a.Profile.Level
}

package habit

import "time"

type Type string

const (
	TypeRitual Type = "ritual"
	TypeGoal   Type = "goal"
)

type LinkType string

const (
	LinkPrerequisite LinkType = "prerequisite"
	LinkChain        LinkType = "chain"
	LinkSynergy      LinkType = "synergy"
	LinkConflict     LinkType = "conflict"
)

func (t LinkType) Valid() bool {
	switch t {
	case LinkPrerequisite, LinkChain, LinkSynergy, LinkConflict:
		return true
	}
	return false
}

// Habit is a recurring ritual or a finite goal governed by a weekday set.
type Habit struct {
	ID           int       `json:"id"`
	UserID       int       `json:"user_id"`
	Title        string    `json:"title"`
	Category     string    `json:"category"`
	TimeOfDay    string    `json:"time_of_day"`
	Frequency    Frequency `json:"frequency"`
	Type         Type      `json:"type"`
	GoalProgress int       `json:"goal_progress"`
	GoalDuration int       `json:"goal_duration"`
	Priority     int       `json:"priority"`
	Archived     bool      `json:"archived"`
	CreatedAt    time.Time `json:"created_at"`
}

// StartDate is the calendar day the habit was created on.
func (h Habit) StartDate() DateKey {
	return DateKeyOf(h.CreatedAt)
}

// Link is a directed edge between two habits of the same user.
type Link struct {
	SourceHabitID int               `json:"source_habit_id"`
	TargetHabitID int               `json:"target_habit_id"`
	Type          LinkType          `json:"type"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

type CompletionRecord struct {
	HabitID       int       `json:"habit_id"`
	Date          DateKey   `json:"date"`
	Note          string    `json:"note,omitempty"`
	AwardedPoints int       `json:"awarded_points"`
	CreatedAt     time.Time `json:"created_at"`
}

type SkipRecord struct {
	HabitID   int       `json:"habit_id"`
	Date      DateKey   `json:"date"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Profile is the per-user gamification state. Level thresholds are owned by
// the store's atomic increment, never computed here.
type Profile struct {
	UserID          int `json:"user_id"`
	Level           int `json:"level"`
	CurrentPoints   int `json:"current_points"`
	NextLevelPoints int `json:"next_level_points"`
}

// ArrearEntry is a scheduled but unfulfilled obligation on a past date.
// It is derived on read and never persisted.
type ArrearEntry struct {
	HabitID  int     `json:"habit_id"`
	Title    string  `json:"title"`
	Date     DateKey `json:"date"`
	Priority int     `json:"priority"`
}

// HabitView is a habit augmented with its state for one calendar day.
type HabitView struct {
	Habit
	CompletedToday bool   `json:"completed_today"`
	SkippedToday   bool   `json:"skipped_today"`
	IsLocked       bool   `json:"is_locked"`
	BlockedBy      []int  `json:"blocked_by,omitempty"`
	Links          []Link `json:"links"`
}

// ToggleResult tells the caller exactly what a toggle applied so that
// optimistic client state can be reconciled without guessing.
type ToggleResult struct {
	HabitID      int     `json:"habit_id"`
	Date         DateKey `json:"date"`
	Completed    bool    `json:"completed"`
	Changed      bool    `json:"changed"`
	XPDelta      int     `json:"xp_delta"`
	SynergyBonus bool    `json:"synergy_bonus"`
	LevelChanged bool    `json:"level_changed"`
	Profile      Profile `json:"profile"`
}

package mq

const (
	RoutingKeyCompletionToggled = "habit.completion.toggled"
	RoutingKeyHabitSkipped      = "habit.skipped"
	RoutingKeyLevelChanged      = "profile.level_changed"
)

type CompletionToggledPayload struct {
	UserID       int    `json:"user_id"`
	HabitID      int    `json:"habit_id"`
	Date         string `json:"date"`
	Completed    bool   `json:"completed"`
	XPDelta      int    `json:"xp_delta"`
	SynergyBonus bool   `json:"synergy_bonus"`
	TraceID      string `json:"trace_id,omitempty"`
}

type HabitSkippedPayload struct {
	UserID  int    `json:"user_id"`
	HabitID int    `json:"habit_id"`
	Date    string `json:"date"`
	Reason  string `json:"reason,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

type LevelChangedPayload struct {
	UserID   int    `json:"user_id"`
	OldLevel int    `json:"old_level"`
	NewLevel int    `json:"new_level"`
	TraceID  string `json:"trace_id,omitempty"`
}

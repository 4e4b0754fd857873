package habit

import (
	"fmt"
	"sort"
	"time"
)

// Frequency is the set of weekdays a habit recurs on, 0 = Sunday ... 6 = Saturday.
type Frequency []int

func (f Frequency) Validate() error {
	if len(f) == 0 {
		return &ValidationError{Field: "frequency", Reason: "at least one weekday is required"}
	}
	seen := make(map[int]bool, len(f))
	for _, d := range f {
		if d < 0 || d > 6 {
			return &ValidationError{Field: "frequency", Reason: fmt.Sprintf("weekday %d out of range 0-6", d)}
		}
		if seen[d] {
			return &ValidationError{Field: "frequency", Reason: fmt.Sprintf("weekday %d listed twice", d)}
		}
		seen[d] = true
	}
	return nil
}

func (f Frequency) Contains(wd time.Weekday) bool {
	for _, d := range f {
		if d == int(wd) {
			return true
		}
	}
	return false
}

// Normalized returns a sorted copy.
func (f Frequency) Normalized() Frequency {
	out := append(Frequency(nil), f...)
	sort.Ints(out)
	return out
}

// IsScheduled reports whether the habit owes an occurrence on date.
// Pure: depends only on the frequency set, the archived flag and the date.
func IsScheduled(h Habit, date DateKey) bool {
	return !h.Archived && h.Frequency.Contains(date.Weekday())
}

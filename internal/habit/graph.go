package habit

import (
	"fmt"
	"sort"
)

// Graph answers same-day lock and synergy questions over a user's links.
//
// Resolution is one hop deep: a prerequisite chain A -> B -> C does not
// unlock C when A is completed. Chain and conflict edges are carried as
// data only.
type Graph struct {
	prerequisites map[int][]int // target -> sources
	synergy       map[int][]int // habit -> partners, both directions
	byHabit       map[int][]Link
}

// NewGraph indexes links. Edges touching a habit missing from habits or
// archived are ignored for evaluation; pass nil habits to keep every edge.
func NewGraph(links []Link, habits []Habit) *Graph {
	var active map[int]bool
	if habits != nil {
		active = make(map[int]bool, len(habits))
		for _, h := range habits {
			if !h.Archived {
				active[h.ID] = true
			}
		}
	}

	g := &Graph{
		prerequisites: make(map[int][]int),
		synergy:       make(map[int][]int),
		byHabit:       make(map[int][]Link),
	}
	for _, l := range links {
		g.byHabit[l.SourceHabitID] = append(g.byHabit[l.SourceHabitID], l)
		if l.TargetHabitID != l.SourceHabitID {
			g.byHabit[l.TargetHabitID] = append(g.byHabit[l.TargetHabitID], l)
		}

		if active != nil && (!active[l.SourceHabitID] || !active[l.TargetHabitID]) {
			continue
		}
		switch l.Type {
		case LinkPrerequisite:
			g.prerequisites[l.TargetHabitID] = appendUnique(g.prerequisites[l.TargetHabitID], l.SourceHabitID)
		case LinkSynergy:
			g.synergy[l.SourceHabitID] = appendUnique(g.synergy[l.SourceHabitID], l.TargetHabitID)
			g.synergy[l.TargetHabitID] = appendUnique(g.synergy[l.TargetHabitID], l.SourceHabitID)
		}
	}
	return g
}

// CompletionSet holds the habit ids completed on one calendar day.
type CompletionSet map[int]bool

func NewCompletionSet(ids ...int) CompletionSet {
	s := make(CompletionSet, len(ids))
	for _, id := range ids {
		s[id] = true
	}
	return s
}

type LockStatus struct {
	Locked    bool
	BlockedBy []int
}

// LockStatus evaluates the habit against the completions of a single day.
// Locked iff some prerequisite source is absent from todays.
func (g *Graph) LockStatus(habitID int, todays CompletionSet) LockStatus {
	var blocked []int
	for _, src := range g.prerequisites[habitID] {
		if !todays[src] {
			blocked = append(blocked, src)
		}
	}
	sort.Ints(blocked)
	return LockStatus{Locked: len(blocked) > 0, BlockedBy: blocked}
}

func (g *Graph) Prerequisites(habitID int) []int {
	return append([]int(nil), g.prerequisites[habitID]...)
}

func (g *Graph) SynergyPartners(habitID int) []int {
	return append([]int(nil), g.synergy[habitID]...)
}

// Links returns every edge with habitID as source or target.
func (g *Graph) Links(habitID int) []Link {
	return append([]Link{}, g.byHabit[habitID]...)
}

// ValidateLinks checks a replacement outgoing link set for habitID.
func ValidateLinks(habitID int, links []Link) error {
	type edge struct {
		target int
		typ    LinkType
	}
	seen := make(map[edge]bool, len(links))
	for _, l := range links {
		if !l.Type.Valid() {
			return &ValidationError{Field: "link.type", Reason: fmt.Sprintf("unknown link type %q", l.Type)}
		}
		if l.SourceHabitID != habitID {
			return &ValidationError{Field: "link", Reason: fmt.Sprintf("link %d->%d does not start at habit %d", l.SourceHabitID, l.TargetHabitID, habitID)}
		}
		if l.TargetHabitID == habitID {
			return &ValidationError{Field: "link", Reason: "a habit cannot link to itself"}
		}
		key := edge{target: l.TargetHabitID, typ: l.Type}
		if seen[key] {
			return &ValidationError{Field: "link", Reason: fmt.Sprintf("duplicate %s link to habit %d", l.Type, l.TargetHabitID)}
		}
		seen[key] = true
	}
	return nil
}

func appendUnique(s []int, v int) []int {
	for _, x := range s {
		if x == v {
			return s
		}
	}
	return append(s, v)
}

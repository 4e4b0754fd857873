package habit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLockStatus_SameDayOnly(t *testing.T) {
	const a, b = 1, 2
	g := NewGraph([]Link{{SourceHabitID: a, TargetHabitID: b, Type: LinkPrerequisite}}, nil)

	// day D
	st := g.LockStatus(b, NewCompletionSet())
	assert.True(t, st.Locked)
	assert.Equal(t, []int{a}, st.BlockedBy)

	// A completed on D
	assert.False(t, g.LockStatus(b, NewCompletionSet(a)).Locked)

	// D+1, nothing yet
	assert.True(t, g.LockStatus(b, NewCompletionSet()).Locked)

	assert.False(t, g.LockStatus(a, NewCompletionSet()).Locked)
}

func TestLockStatus_NotTransitive(t *testing.T) {
	g := NewGraph([]Link{
		{SourceHabitID: 1, TargetHabitID: 2, Type: LinkPrerequisite},
		{SourceHabitID: 2, TargetHabitID: 3, Type: LinkPrerequisite},
	}, nil)

	assert.True(t, g.LockStatus(3, NewCompletionSet(1)).Locked)
	assert.False(t, g.LockStatus(3, NewCompletionSet(2)).Locked)
}

func TestLockStatus_BlockedBySorted(t *testing.T) {
	g := NewGraph([]Link{
		{SourceHabitID: 9, TargetHabitID: 1, Type: LinkPrerequisite},
		{SourceHabitID: 4, TargetHabitID: 1, Type: LinkPrerequisite},
		{SourceHabitID: 7, TargetHabitID: 1, Type: LinkPrerequisite},
	}, nil)
	assert.Equal(t, []int{4, 9}, g.LockStatus(1, NewCompletionSet(7)).BlockedBy)
}

func TestNewGraph_IgnoresArchivedEndpoints(t *testing.T) {
	habits := []Habit{{ID: 1, Archived: true}, {ID: 2}, {ID: 3}}
	g := NewGraph([]Link{
		{SourceHabitID: 1, TargetHabitID: 2, Type: LinkPrerequisite},
		{SourceHabitID: 1, TargetHabitID: 3, Type: LinkSynergy},
	}, habits)

	assert.False(t, g.LockStatus(2, NewCompletionSet()).Locked)
	assert.Empty(t, g.SynergyPartners(3))
	// still listed for display
	assert.Len(t, g.Links(2), 1)
}

func TestSynergyPartners_Symmetric(t *testing.T) {
	g := NewGraph([]Link{{SourceHabitID: 1, TargetHabitID: 2, Type: LinkSynergy}}, nil)
	assert.Equal(t, []int{2}, g.SynergyPartners(1))
	assert.Equal(t, []int{1}, g.SynergyPartners(2))
}

func TestChainAndConflictAreDataOnly(t *testing.T) {
	g := NewGraph([]Link{
		{SourceHabitID: 1, TargetHabitID: 2, Type: LinkChain},
		{SourceHabitID: 1, TargetHabitID: 3, Type: LinkConflict},
	}, nil)
	assert.False(t, g.LockStatus(2, NewCompletionSet()).Locked)
	assert.False(t, g.LockStatus(3, NewCompletionSet()).Locked)
	assert.Empty(t, g.SynergyPartners(1))
	assert.Len(t, g.Links(1), 2)
}

func TestValidateLinks(t *testing.T) {
	ok := []Link{
		{SourceHabitID: 1, TargetHabitID: 2, Type: LinkPrerequisite},
		{SourceHabitID: 1, TargetHabitID: 2, Type: LinkSynergy},
	}
	assert.NoError(t, ValidateLinks(1, ok))
	assert.NoError(t, ValidateLinks(1, nil))

	tests := map[string][]Link{
		"unknown type": {{SourceHabitID: 1, TargetHabitID: 2, Type: "blocks"}},
		"self link":    {{SourceHabitID: 1, TargetHabitID: 1, Type: LinkChain}},
		"wrong source": {{SourceHabitID: 3, TargetHabitID: 2, Type: LinkChain}},
		"duplicate": {
			{SourceHabitID: 1, TargetHabitID: 2, Type: LinkChain},
			{SourceHabitID: 1, TargetHabitID: 2, Type: LinkChain},
		},
	}
	for name, links := range tests {
		t.Run(name, func(t *testing.T) {
			assert.True(t, IsValidation(ValidateLinks(1, links)))
		})
	}
}

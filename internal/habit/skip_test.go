package habit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mqcontracts "habitledger/contracts/mq"
)

func TestSkipHabit_ExcusesArrear(t *testing.T) {
	e, store := newTestEngine(t)
	h := store.addHabit(Habit{UserID: testUser, Title: "Run", Frequency: everyDay, CreatedAt: created("2024-01-08")})
	ctx := context.Background()

	require.NoError(t, e.SkipHabit(ctx, testUser, h.ID, "2024-01-08", "sick"))
	require.NoError(t, e.SkipHabit(ctx, testUser, h.ID, "2024-01-08", "still sick"))

	assert.Len(t, store.state.skips, 1)
	assert.Equal(t, "sick", store.state.skips[recKey{h.ID, "2024-01-08"}].Reason)
	assert.Equal(t, []string{mqcontracts.RoutingKeyHabitSkipped}, routingKeys(store.state.events))
	assert.Zero(t, store.profile(testUser).CurrentPoints)

	entries, err := e.ListArrears(ctx, testUser, "2024-01-10")
	require.NoError(t, err)
	assert.Equal(t, []DateKey{"2024-01-09"}, entryDates(entries, h.ID))
}

func TestSkipHabit_NoOpWhenCompleted(t *testing.T) {
	e, store := newTestEngine(t)
	h := store.addHabit(Habit{UserID: testUser, Title: "Run", Frequency: everyDay})
	store.addCompletion(h.ID, "2024-01-10", 10)

	require.NoError(t, e.SkipHabit(context.Background(), testUser, h.ID, "2024-01-10", ""))
	assert.Empty(t, store.state.skips)
	assert.Empty(t, store.state.events)
}

func TestSkipHabit_Errors(t *testing.T) {
	e, store := newTestEngine(t)
	archived := store.addHabit(Habit{UserID: testUser, Title: "Old", Frequency: everyDay, Archived: true})
	ctx := context.Background()

	assert.True(t, IsValidation(e.SkipHabit(ctx, testUser, archived.ID, "2024-01-10", "")))
	assert.True(t, IsNotFound(e.SkipHabit(ctx, testUser, 404, "2024-01-10", "")))

	live := store.addHabit(Habit{UserID: testUser, Title: "Run", Frequency: everyDay})
	upstream := &UpstreamUnavailableError{Op: "insert skip", Err: context.DeadlineExceeded}
	store.failOn["InsertSkip"] = upstream
	assert.Same(t, upstream, e.SkipHabit(ctx, testUser, live.ID, "2024-01-10", ""))
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"habitledger/internal/habit"
	"habitledger/pkg/circuitbreaker"
)

func TestClassify(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		assert.NoError(t, classify("op", nil))
	})

	t.Run("domain errors pass through", func(t *testing.T) {
		ve := &habit.ValidationError{Field: "habit", Reason: "locked"}
		assert.Same(t, ve, classify("op", ve))
		assert.Equal(t, habit.ErrConflictIgnored, classify("op", habit.ErrConflictIgnored))
	})

	t.Run("transient errors become upstream unavailable", func(t *testing.T) {
		for _, err := range []error{
			context.DeadlineExceeded,
			circuitbreaker.ErrCircuitBreakerOpen,
			&pgconn.PgError{Code: "57P03"},
			errors.New("dial tcp: connection refused"),
		} {
			got := classify("get habit", err)
			assert.True(t, habit.IsUpstreamUnavailable(got), "%v", err)
			assert.ErrorIs(t, got, err)
		}
	})

	t.Run("no rows stays detectable", func(t *testing.T) {
		got := classify("get habit", pgx.ErrNoRows)
		assert.ErrorIs(t, got, pgx.ErrNoRows)
		assert.False(t, habit.IsUpstreamUnavailable(got))
	})

	t.Run("constraint errors are wrapped", func(t *testing.T) {
		got := classify("insert", &pgconn.PgError{Code: "23514"})
		assert.False(t, habit.IsUpstreamUnavailable(got))
		assert.True(t, strings.HasPrefix(got.Error(), "insert: "))
	})
}

func TestMigrationNames(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "001_init.sql", names[0])

	body, err := migrationFS.ReadFile("migrations/" + names[0])
	require.NoError(t, err)
	for _, table := range []string{"habits", "habit_links", "habit_completions", "habit_skips", "gamification_profiles", "outbox_events"} {
		assert.Contains(t, string(body), fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (", table))
	}
	assert.Contains(t, string(body), "UNIQUE (habit_id, date)")
	assert.Contains(t, string(body), "FUNCTION apply_points")
}

package recurrence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/fleetshare/internal/booking"
	"github.com/example/fleetshare/internal/persistence"
	"github.com/example/fleetshare/internal/testfixtures"
)

func TestSweepOnceExpandsActiveRules(t *testing.T) {
	intervals := testfixtures.NewMemoryIntervalRepository()
	rules := testfixtures.NewMemoryRecurrenceRepository()
	clock := testfixtures.NewClock(date(2024, time.January, 1))
	guard := booking.NewConflictGuard(intervals, nil, testfixtures.NewIDGenerator("resv").NextFunc(), clock.NowFunc(), nil)
	expander := NewExpander(rules, guard, clock.NowFunc(), nil)
	sweeper := NewSweeper(rules, expander, 14, time.Hour, clock.NowFunc(), nil)

	ctx := context.Background()
	active := weeklyRule("rule-active")
	require.NoError(t, rules.CreateRule(ctx, active))

	cancelled := weeklyRule("rule-cancelled")
	cancelled.VehicleID = "van-2"
	cancelled.Status = persistence.RuleStatusCancelled
	require.NoError(t, rules.CreateRule(ctx, cancelled))

	sweeper.SweepOnce(ctx)

	stored, err := rules.GetRule(ctx, active.ID)
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.January, 15), stored.GeneratedUntil)

	committed, err := intervals.ListOverlapping(ctx, "van-1", date(2024, time.January, 1), date(2024, time.February, 1))
	require.NoError(t, err)
	// Mondays and Wednesdays through Jan 15: 1, 3, 8, 10, 15.
	assert.Len(t, committed, 5)

	untouched, err := intervals.ListOverlapping(ctx, "van-2", date(2024, time.January, 1), date(2024, time.February, 1))
	require.NoError(t, err)
	assert.Empty(t, untouched)
}

func TestSweepOnceIsIdempotentWithinHorizon(t *testing.T) {
	intervals := testfixtures.NewMemoryIntervalRepository()
	rules := testfixtures.NewMemoryRecurrenceRepository()
	clock := testfixtures.NewClock(date(2024, time.January, 1))
	guard := booking.NewConflictGuard(intervals, nil, testfixtures.NewIDGenerator("resv").NextFunc(), clock.NowFunc(), nil)
	expander := NewExpander(rules, guard, clock.NowFunc(), nil)
	sweeper := NewSweeper(rules, expander, 14, time.Hour, clock.NowFunc(), nil)

	ctx := context.Background()
	require.NoError(t, rules.CreateRule(ctx, weeklyRule("rule-1")))

	sweeper.SweepOnce(ctx)
	sweeper.SweepOnce(ctx)

	committed, err := intervals.ListOverlapping(ctx, "van-1", date(2024, time.January, 1), date(2024, time.February, 1))
	require.NoError(t, err)
	assert.Len(t, committed, 5)
}

package recurrence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/fleetshare/internal/booking"
	"github.com/example/fleetshare/internal/persistence"
	"github.com/example/fleetshare/internal/testfixtures"
)

type expanderFixture struct {
	intervals *testfixtures.MemoryIntervalRepository
	rules     *testfixtures.MemoryRecurrenceRepository
	guard     *booking.ConflictGuard
	expander  *Expander
	clock     *testfixtures.Clock
}

func newExpanderFixture(t *testing.T) *expanderFixture {
	t.Helper()
	intervals := testfixtures.NewMemoryIntervalRepository()
	rules := testfixtures.NewMemoryRecurrenceRepository()
	clock := testfixtures.NewClock(time.Time{})
	guard := booking.NewConflictGuard(intervals, nil, testfixtures.NewIDGenerator("resv").NextFunc(), clock.NowFunc(), nil)
	expander := NewExpander(rules, guard, clock.NowFunc(), nil)
	return &expanderFixture{intervals: intervals, rules: rules, guard: guard, expander: expander, clock: clock}
}

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// weeklyRule repeats Mondays and Wednesdays, 09:00-10:00 UTC, from 2024-01-01
// (a Monday) onward.
func weeklyRule(id string) persistence.RecurrenceRule {
	windowStart := date(2024, time.January, 1)
	return persistence.RecurrenceRule{
		ID:             id,
		VehicleID:      "van-1",
		OwnerID:        "alice",
		Pattern:        persistence.RulePatternWeekly,
		Interval:       1,
		WeekdayMask:    WeekdayMask(time.Monday, time.Wednesday),
		StartMinute:    9 * 60,
		EndMinute:      10 * 60,
		WindowStart:    windowStart,
		Timezone:       "UTC",
		Status:         persistence.RuleStatusActive,
		GeneratedUntil: windowStart.AddDate(0, 0, -1),
	}
}

func (f *expanderFixture) mustCreate(t *testing.T, rule persistence.RecurrenceRule) persistence.RecurrenceRule {
	t.Helper()
	require.NoError(t, f.rules.CreateRule(context.Background(), rule))
	return rule
}

func TestExpandWeeklyRule(t *testing.T) {
	f := newExpanderFixture(t)
	rule := f.mustCreate(t, weeklyRule("rule-1"))

	result, err := f.expander.ExpandUntil(context.Background(), rule, date(2024, time.January, 10))
	require.NoError(t, err)

	require.Len(t, result.Committed, 4)
	wantDates := []time.Time{
		date(2024, time.January, 1),
		date(2024, time.January, 3),
		date(2024, time.January, 8),
		date(2024, time.January, 10),
	}
	for i, interval := range result.Committed {
		assert.Equal(t, wantDates[i].Add(9*time.Hour), interval.Start, "instance %d", i)
		assert.Equal(t, wantDates[i].Add(10*time.Hour), interval.End, "instance %d", i)
		require.NotNil(t, interval.RuleID)
		assert.Equal(t, rule.ID, *interval.RuleID)
	}
	assert.Equal(t, date(2024, time.January, 10), result.NewWatermark)
	assert.Empty(t, result.Skipped)
}

func TestExpandIsIdempotent(t *testing.T) {
	f := newExpanderFixture(t)
	rule := f.mustCreate(t, weeklyRule("rule-1"))
	ctx := context.Background()
	horizon := date(2024, time.January, 10)

	first, err := f.expander.ExpandUntil(ctx, rule, horizon)
	require.NoError(t, err)
	require.Len(t, first.Committed, 4)

	// Re-expanding with the advanced watermark is a no-op.
	stored, err := f.rules.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	second, err := f.expander.ExpandUntil(ctx, stored, horizon)
	require.NoError(t, err)
	assert.Empty(t, second.Committed)
	assert.Equal(t, horizon, second.NewWatermark)
}

func TestExpandExtendsFromWatermark(t *testing.T) {
	f := newExpanderFixture(t)
	rule := f.mustCreate(t, weeklyRule("rule-1"))
	ctx := context.Background()

	_, err := f.expander.ExpandUntil(ctx, rule, date(2024, time.January, 10))
	require.NoError(t, err)

	stored, err := f.rules.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	result, err := f.expander.ExpandUntil(ctx, stored, date(2024, time.January, 17))
	require.NoError(t, err)

	// Only the dates after the previous watermark appear: Jan 15 and 17.
	require.Len(t, result.Committed, 2)
	assert.Equal(t, date(2024, time.January, 15).Add(9*time.Hour), result.Committed[0].Start)
	assert.Equal(t, date(2024, time.January, 17).Add(9*time.Hour), result.Committed[1].Start)
}

func TestExpandDailyWithInterval(t *testing.T) {
	f := newExpanderFixture(t)
	rule := weeklyRule("rule-1")
	rule.Pattern = persistence.RulePatternDaily
	rule.Interval = 3
	rule.WeekdayMask = 0
	f.mustCreate(t, rule)

	result, err := f.expander.ExpandUntil(context.Background(), rule, date(2024, time.January, 10))
	require.NoError(t, err)

	// Every third day from the window start: Jan 1, 4, 7, 10.
	require.Len(t, result.Committed, 4)
	assert.Equal(t, date(2024, time.January, 4).Add(9*time.Hour), result.Committed[1].Start)
	assert.Equal(t, date(2024, time.January, 10).Add(9*time.Hour), result.Committed[3].Start)
}

func TestExpandBiweekly(t *testing.T) {
	f := newExpanderFixture(t)
	rule := weeklyRule("rule-1")
	rule.Interval = 2
	f.mustCreate(t, rule)

	result, err := f.expander.ExpandUntil(context.Background(), rule, date(2024, time.January, 21))
	require.NoError(t, err)

	// Weeks 0 and 2 of the window: Jan 1, 3, 15, 17.
	require.Len(t, result.Committed, 4)
	assert.Equal(t, date(2024, time.January, 1).Add(9*time.Hour), result.Committed[0].Start)
	assert.Equal(t, date(2024, time.January, 3).Add(9*time.Hour), result.Committed[1].Start)
	assert.Equal(t, date(2024, time.January, 15).Add(9*time.Hour), result.Committed[2].Start)
	assert.Equal(t, date(2024, time.January, 17).Add(9*time.Hour), result.Committed[3].Start)
}

func TestExpandSkipsConflictsAndContinues(t *testing.T) {
	f := newExpanderFixture(t)
	rule := f.mustCreate(t, weeklyRule("rule-1"))
	ctx := context.Background()

	// A one-off reservation blocks the Jan 3 instance.
	_, err := f.guard.TryCommit(ctx, booking.Candidate{
		VehicleID: "van-1",
		OwnerID:   "bob",
		Start:     date(2024, time.January, 3).Add(9*time.Hour + 30*time.Minute),
		End:       date(2024, time.January, 3).Add(11 * time.Hour),
	})
	require.NoError(t, err)

	result, err := f.expander.ExpandUntil(ctx, rule, date(2024, time.January, 10))
	require.NoError(t, err)

	require.Len(t, result.Committed, 3)
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, date(2024, time.January, 3), result.Skipped[0].Date)
	assert.Equal(t, SkipReasonConflict, result.Skipped[0].Reason)
	// The watermark still advances past the skipped date.
	assert.Equal(t, date(2024, time.January, 10), result.NewWatermark)
}

func TestExpandSkipsInvertedTimeBounds(t *testing.T) {
	f := newExpanderFixture(t)
	rule := weeklyRule("rule-1")
	rule.StartMinute = 10 * 60
	rule.EndMinute = 9 * 60
	f.mustCreate(t, rule)

	result, err := f.expander.ExpandUntil(context.Background(), rule, date(2024, time.January, 10))
	require.NoError(t, err)

	assert.Empty(t, result.Committed)
	require.Len(t, result.Skipped, 4)
	for _, skip := range result.Skipped {
		assert.Equal(t, SkipReasonAnomaly, skip.Reason)
	}
	assert.Equal(t, date(2024, time.January, 10), result.NewWatermark)
}

func TestExpandRespectsWindowEnd(t *testing.T) {
	f := newExpanderFixture(t)
	rule := weeklyRule("rule-1")
	windowEnd := date(2024, time.January, 8)
	rule.WindowEnd = &windowEnd
	f.mustCreate(t, rule)

	result, err := f.expander.ExpandUntil(context.Background(), rule, date(2024, time.January, 31))
	require.NoError(t, err)

	// Jan 10 falls outside the window; Jan 8 is the last instance.
	require.Len(t, result.Committed, 3)
	assert.Equal(t, date(2024, time.January, 8).Add(9*time.Hour), result.Committed[2].Start)
}

func TestExpandCancelledRuleIsNoOp(t *testing.T) {
	f := newExpanderFixture(t)
	rule := weeklyRule("rule-1")
	rule.Status = persistence.RuleStatusCancelled
	f.mustCreate(t, rule)

	result, err := f.expander.ExpandUntil(context.Background(), rule, date(2024, time.January, 10))
	require.NoError(t, err)
	assert.Empty(t, result.Committed)
}

func TestExpandPausedRule(t *testing.T) {
	f := newExpanderFixture(t)
	f.clock.Set(date(2024, time.January, 5))

	rule := weeklyRule("rule-1")
	rule.Status = persistence.RuleStatusPaused
	f.mustCreate(t, rule)

	// Paused indefinitely: nothing happens.
	result, err := f.expander.ExpandUntil(context.Background(), rule, date(2024, time.January, 10))
	require.NoError(t, err)
	assert.Empty(t, result.Committed)

	// Pause lapsed: expansion resumes.
	pausedUntil := date(2024, time.January, 4)
	rule.PausedUntil = &pausedUntil
	result, err = f.expander.ExpandUntil(context.Background(), rule, date(2024, time.January, 10))
	require.NoError(t, err)
	assert.Len(t, result.Committed, 4)
}

func TestExpandUsesRuleTimezone(t *testing.T) {
	f := newExpanderFixture(t)
	rule := weeklyRule("rule-1")
	rule.Timezone = "America/New_York"
	f.mustCreate(t, rule)

	result, err := f.expander.ExpandUntil(context.Background(), rule, date(2024, time.January, 1))
	require.NoError(t, err)

	// 09:00 in New York is 14:00 UTC in January.
	require.Len(t, result.Committed, 1)
	assert.Equal(t, date(2024, time.January, 1).Add(14*time.Hour), result.Committed[0].Start)
}

func TestExpandAbortsWithoutAdvancingWatermark(t *testing.T) {
	intervals := testfixtures.NewMemoryIntervalRepository()
	rules := testfixtures.NewMemoryRecurrenceRepository()
	boom := errors.New("boom")
	guard := booking.NewConflictGuard(brokenCreateStore{inner: intervals, err: boom}, nil, nil, nil, nil)
	expander := NewExpander(rules, guard, nil, nil)

	rule := weeklyRule("rule-1")
	require.NoError(t, rules.CreateRule(context.Background(), rule))

	_, err := expander.ExpandUntil(context.Background(), rule, date(2024, time.January, 10))
	require.ErrorIs(t, err, boom)

	stored, err := rules.GetRule(context.Background(), rule.ID)
	require.NoError(t, err)
	assert.Equal(t, rule.GeneratedUntil, stored.GeneratedUntil)
}

type brokenCreateStore struct {
	inner *testfixtures.MemoryIntervalRepository
	err   error
}

func (b brokenCreateStore) CreateInterval(context.Context, persistence.Interval) error {
	return b.err
}

func (b brokenCreateStore) ListOverlapping(ctx context.Context, vehicleID string, start, end time.Time) ([]persistence.Interval, error) {
	return b.inner.ListOverlapping(ctx, vehicleID, start, end)
}

func (b brokenCreateStore) UpdateIntervalState(ctx context.Context, interval persistence.Interval) error {
	return b.inner.UpdateIntervalState(ctx, interval)
}

package recurrence

import (
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestRollForwardCatchesUpMissedDays(t *testing.T) {
	t.Parallel()
	ev := NewEvaluator(time.UTC)
	rule := Rule{Frequency: FrequencyDaily, Every: 1}
	st := State{Anchor: day(2024, 1, 1), NextOccurrence: ptr(day(2024, 1, 1)), Status: StatusActive}

	got, out, err := RollForward(ev, rule, st, day(2024, 1, 4))
	require.NoError(t, err)
	assert.Equal(t, 4, out.Fired)
	assert.False(t, out.Terminated)
	require.NotNil(t, got.LastOccurrence)
	require.NotNil(t, got.NextOccurrence)
	assert.Equal(t, day(2024, 1, 4), *got.LastOccurrence)
	assert.Equal(t, day(2024, 1, 5), *got.NextOccurrence)
	assert.Equal(t, StatusActive, got.Status)
}

func TestRollForwardTerminatesAtSeriesEnd(t *testing.T) {
	t.Parallel()
	ev := NewEvaluator(time.UTC)
	rule := Rule{Frequency: FrequencyMonthly, Every: 1, DayOfMonth: 15, SeriesEnd: ptr(day(2024, 3, 1))}
	st := State{Anchor: day(2024, 1, 15), NextOccurrence: ptr(day(2024, 1, 15)), Status: StatusPending}

	first, out, err := RollForward(ev, rule, st, day(2024, 1, 15))
	require.NoError(t, err)
	assert.False(t, out.Terminated)
	assert.Equal(t, day(2024, 2, 15), *first.NextOccurrence)

	second, out, err := RollForward(ev, rule, first, day(2024, 2, 15))
	require.NoError(t, err)
	assert.True(t, out.Terminated)
	assert.Nil(t, second.NextOccurrence)
	assert.Equal(t, StatusDone, second.Status)
	assert.True(t, second.IsDone)
	assert.Equal(t, day(2024, 2, 15), *second.LastOccurrence)
	assert.True(t, second.Ended())

	// A terminated series is never touched again.
	third, out, err := RollForward(ev, rule, second, day(2025, 1, 1))
	require.NoError(t, err)
	assert.False(t, out.Changed())
	assert.Equal(t, second, third)
}

func TestRollForwardSeriesEndIsInclusive(t *testing.T) {
	t.Parallel()
	ev := NewEvaluator(time.UTC)
	rule := Rule{Frequency: FrequencyDaily, Every: 1, SeriesEnd: ptr(day(2024, 1, 3))}
	st := State{NextOccurrence: ptr(day(2024, 1, 1)), Status: StatusActive}

	got, out, err := RollForward(ev, rule, st, day(2024, 1, 2))
	require.NoError(t, err)
	assert.False(t, out.Terminated)
	assert.Equal(t, day(2024, 1, 3), *got.NextOccurrence)

	got, out, err = RollForward(ev, rule, got, day(2024, 1, 3))
	require.NoError(t, err)
	assert.True(t, out.Terminated)
	assert.Equal(t, day(2024, 1, 3), *got.LastOccurrence)
}

func TestRollForwardRestoresStatusAfterEarlyCompletion(t *testing.T) {
	t.Parallel()
	ev := NewEvaluator(time.UTC)
	rule := Rule{Frequency: FrequencyDaily, Every: 1}

	tests := []struct {
		name     string
		previous *Status
		want     Status
	}{
		{name: "snapshot restored", previous: ptr(StatusPending), want: StatusPending},
		{name: "no snapshot falls back to active", previous: nil, want: StatusActive},
		{name: "done snapshot falls back to active", previous: ptr(StatusDone), want: StatusActive},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			st := State{NextOccurrence: ptr(day(2024, 1, 2)), Status: StatusDone, PreviousStatus: tt.previous, IsDone: true}
			got, _, err := RollForward(ev, rule, st, day(2024, 1, 2))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Status)
			assert.False(t, got.IsDone)
		})
	}
}

func TestRollForwardNotDueIsNoop(t *testing.T) {
	t.Parallel()
	ev := NewEvaluator(time.UTC)
	rule := Rule{Frequency: FrequencyDaily, Every: 1}
	st := State{NextOccurrence: ptr(day(2024, 1, 5)), Status: StatusDone, IsDone: true}

	got, out, err := RollForward(ev, rule, st, day(2024, 1, 4))
	require.NoError(t, err)
	assert.False(t, out.Changed())
	assert.Equal(t, st, got)

	got, out, err = RollForward(ev, Rule{Frequency: FrequencyNone}, State{}, day(2024, 1, 4))
	require.NoError(t, err)
	assert.False(t, out.Changed())
	assert.Equal(t, State{}, got)
}

func TestRollForwardInvalidRuleLeavesStateUntouched(t *testing.T) {
	t.Parallel()
	ev := NewEvaluator(time.UTC)
	rule := Rule{Frequency: FrequencyMonthly, Every: 1, DayOfMonth: 40}
	st := State{NextOccurrence: ptr(day(2024, 1, 1)), Status: StatusActive}

	got, out, err := RollForward(ev, rule, st, day(2024, 3, 1))
	var invalid *InvalidRuleError
	require.True(t, errors.As(err, &invalid))
	assert.False(t, out.Changed())
	assert.Equal(t, st, got)
}

func TestRollForwardPeriodBoundaryMode(t *testing.T) {
	t.Parallel()
	ev := NewEvaluator(time.UTC)
	// Period mode starts each month on the 1st; the day field is ignored.
	rule := Rule{Frequency: FrequencyMonthly, DayOfMonth: 20}
	st := State{NextOccurrence: ptr(day(2024, 1, 1)), Status: StatusActive}
	now := time.Date(2024, 4, 17, 8, 0, 0, 0, time.UTC)

	got, out, err := RollForward(ev, rule, st, now)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Fired)
	assert.Equal(t, day(2024, 1, 1), *got.LastOccurrence)
	assert.Equal(t, day(2024, 5, 1), *got.NextOccurrence)
}

func TestRollForwardWeeklyPeriodBoundaryCatchUp(t *testing.T) {
	t.Parallel()
	ev := NewEvaluator(time.UTC)
	rule := Rule{Frequency: FrequencyWeekly, DayOfWeek: 1}
	// Missed several Mondays; Wednesday 2024-06-05 is now.
	st := State{NextOccurrence: ptr(day(2024, 5, 13)), Status: StatusDone, IsDone: true}
	now := time.Date(2024, 6, 5, 12, 0, 0, 0, time.UTC)

	got, out, err := RollForward(ev, rule, st, now)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Fired)
	assert.Equal(t, day(2024, 5, 13), *got.LastOccurrence)
	assert.Equal(t, day(2024, 6, 10), *got.NextOccurrence)
	assert.Equal(t, StatusActive, got.Status)
	assert.False(t, got.IsDone)
}

// stuckStepper returns the cursor itself once it reaches stuckAt.
type stuckStepper struct {
	Evaluator
	stuckAt time.Time
}

func (s stuckStepper) NextAfter(anchor time.Time, rule Rule, now time.Time) (time.Time, error) {
	if anchor.Equal(s.stuckAt) {
		return anchor, nil
	}
	return s.Evaluator.NextAfter(anchor, rule, now)
}

func TestRollForwardRejectsNonAdvancingCandidate(t *testing.T) {
	t.Parallel()
	ev := stuckStepper{Evaluator: NewEvaluator(time.UTC), stuckAt: day(2024, 1, 3)}
	rule := Rule{Frequency: FrequencyDaily, Every: 1}
	st := State{
		NextOccurrence: ptr(day(2024, 1, 1)),
		Status:         StatusDone,
		PreviousStatus: ptr(StatusPending),
		IsDone:         true,
	}

	got, out, err := RollForward(ev, rule, st, day(2024, 1, 5))
	var nonAdvancing *NonAdvancingOccurrenceError
	require.True(t, errors.As(err, &nonAdvancing))
	assert.Equal(t, day(2024, 1, 3), nonAdvancing.Cursor)
	assert.Equal(t, day(2024, 1, 3), nonAdvancing.Candidate)
	assert.False(t, out.Changed())
	assert.Equal(t, st, got, "state from before the roll is returned")
	assert.Nil(t, got.LastOccurrence)
}

func TestRollForwardIsIdempotent(t *testing.T) {
	t.Parallel()
	ev := NewEvaluator(time.UTC)
	rng := rand.New(rand.NewPCG(1, 2))

	for i := 0; i < 2000; i++ {
		rule := randomRule(rng)
		if rng.IntN(3) == 0 {
			rule.SeriesEnd = ptr(day(2010, 1, 1).AddDate(0, 0, rng.IntN(3650)))
		}
		start := day(2005, 1, 1).AddDate(0, 0, rng.IntN(3650))
		now := start.AddDate(0, 0, rng.IntN(2000))
		st := State{Anchor: start, NextOccurrence: ptr(start), Status: StatusActive}

		first, _, err := RollForward(ev, rule, st, now)
		require.NoError(t, err)
		if first.NextOccurrence != nil {
			require.True(t, first.NextOccurrence.After(now))
			if first.LastOccurrence != nil {
				require.True(t, first.NextOccurrence.After(*first.LastOccurrence))
			}
		} else {
			require.Equal(t, StatusDone, first.Status)
		}

		second, out, err := RollForward(ev, rule, first, now)
		require.NoError(t, err)
		require.False(t, out.Changed())
		require.Equal(t, first, second)
	}
}

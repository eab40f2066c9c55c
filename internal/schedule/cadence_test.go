package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reportmill/internal/models"
)

func intPtr(i int) *int { return &i }

func TestNextDaily(t *testing.T) {
	spec := Spec{Cadence: models.CadenceDaily, TimeOfDay: "09:00"}

	now := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	next, err := Next(spec, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC), next)

	now = time.Date(2025, 1, 1, 9, 30, 0, 0, time.UTC)
	next, err = Next(spec, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC), next)
}

func TestNextDailyExactBoundary(t *testing.T) {
	spec := Spec{Cadence: models.CadenceDaily, TimeOfDay: "09:00"}

	// An occurrence at exactly now is not "strictly after now".
	now := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	next, err := Next(spec, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC), next)
}

func TestNextWeekly(t *testing.T) {
	// 2025-01-01 is a Wednesday (weekday 3).
	spec := Spec{Cadence: models.CadenceWeekly, TimeOfDay: "10:30", DayOfWeek: intPtr(5)}
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	next, err := Next(spec, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 3, 10, 30, 0, 0, time.UTC), next)

	// Today is the target weekday and the time has not yet passed: use today.
	spec.DayOfWeek = intPtr(3)
	now = time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	next, err = Next(spec, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 1, 10, 30, 0, 0, time.UTC), next)

	// Today is the target weekday but the time has passed: next week.
	now = time.Date(2025, 1, 1, 11, 0, 0, 0, time.UTC)
	next, err = Next(spec, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 8, 10, 30, 0, 0, time.UTC), next)
}

func TestNextMonthly(t *testing.T) {
	spec := Spec{Cadence: models.CadenceMonthly, TimeOfDay: "07:15", DayOfMonth: intPtr(15)}

	now := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	next, err := Next(spec, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 15, 7, 15, 0, 0, time.UTC), next)

	now = time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC)
	next, err = Next(spec, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 2, 15, 7, 15, 0, 0, time.UTC), next)
}

func TestNextMonthlyClampsToLastDay(t *testing.T) {
	spec := Spec{Cadence: models.CadenceMonthly, TimeOfDay: "09:00", DayOfMonth: intPtr(31)}

	// February 2025 has 28 days: day 31 falls forward to the 28th.
	now := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	next, err := Next(spec, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 2, 28, 9, 0, 0, 0, time.UTC), next)

	// Leap year February.
	now = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	next, err = Next(spec, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 29, 9, 0, 0, 0, time.UTC), next)
}

func TestNextIsAlwaysStrictlyFuture(t *testing.T) {
	specs := []Spec{
		{Cadence: models.CadenceDaily, TimeOfDay: "00:00"},
		{Cadence: models.CadenceWeekly, TimeOfDay: "23:59", DayOfWeek: intPtr(0)},
		{Cadence: models.CadenceMonthly, TimeOfDay: "12:00", DayOfMonth: intPtr(1)},
		{Cadence: models.CadenceMonthly, TimeOfDay: "12:00", DayOfMonth: intPtr(31)},
	}
	nows := []time.Time{
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 6, 30, 23, 59, 0, 0, time.UTC),
		time.Date(2025, 12, 31, 12, 0, 0, 0, time.UTC),
	}
	for _, spec := range specs {
		for _, now := range nows {
			next, err := Next(spec, now)
			require.NoError(t, err)
			assert.True(t, next.After(now), "next %v must be after now %v", next, now)
		}
	}
}

func TestNextInvalidInput(t *testing.T) {
	cases := []struct {
		name string
		spec Spec
	}{
		{"unknown cadence", Spec{Cadence: "hourly", TimeOfDay: "09:00"}},
		{"malformed time", Spec{Cadence: models.CadenceDaily, TimeOfDay: "nine"}},
		{"hour out of range", Spec{Cadence: models.CadenceDaily, TimeOfDay: "24:00"}},
		{"minute out of range", Spec{Cadence: models.CadenceDaily, TimeOfDay: "09:60"}},
		{"weekly without day", Spec{Cadence: models.CadenceWeekly, TimeOfDay: "09:00"}},
		{"weekly day out of range", Spec{Cadence: models.CadenceWeekly, TimeOfDay: "09:00", DayOfWeek: intPtr(7)}},
		{"monthly without day", Spec{Cadence: models.CadenceMonthly, TimeOfDay: "09:00"}},
		{"monthly day out of range", Spec{Cadence: models.CadenceMonthly, TimeOfDay: "09:00", DayOfMonth: intPtr(0)}},
	}
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Next(tc.spec, now)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidCadence)
		})
	}
}

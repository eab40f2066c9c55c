package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/reportmill/internal/models"
)

// ErrInvalidCadence is returned when a schedule's recurrence fields are
// missing or malformed.
var ErrInvalidCadence = errors.New("invalid cadence input")

// Spec is the recurrence descriptor of a schedule: the cadence plus its
// cadence-specific qualifiers.
type Spec struct {
	Cadence    models.Cadence
	TimeOfDay  string // "HH:MM"
	DayOfWeek  *int   // 0 (Sunday) - 6, weekly only
	DayOfMonth *int   // 1-31, monthly only
}

// SpecFor extracts the recurrence descriptor from a schedule.
func SpecFor(s *models.ReportSchedule) Spec {
	return Spec{
		Cadence:    s.Cadence,
		TimeOfDay:  s.TimeOfDay,
		DayOfWeek:  s.DayOfWeek,
		DayOfMonth: s.DayOfMonth,
	}
}

// Next returns the next trigger instant strictly after now that satisfies
// the recurrence rule. It is a pure function: the only clock it sees is
// the now argument, and times are computed in now's location.
//
// Monthly schedules whose day-of-month does not exist in a given month
// (e.g. 31 in February) fall forward to the last day of that month.
func Next(spec Spec, now time.Time) (time.Time, error) {
	hour, minute, err := parseTimeOfDay(spec.TimeOfDay)
	if err != nil {
		return time.Time{}, err
	}

	switch spec.Cadence {
	case models.CadenceDaily:
		candidate := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
		if !candidate.After(now) {
			candidate = candidate.AddDate(0, 0, 1)
		}
		return candidate, nil

	case models.CadenceWeekly:
		if spec.DayOfWeek == nil {
			return time.Time{}, fmt.Errorf("%w: weekly cadence requires day_of_week", ErrInvalidCadence)
		}
		dow := *spec.DayOfWeek
		if dow < 0 || dow > 6 {
			return time.Time{}, fmt.Errorf("%w: day_of_week %d out of range 0-6", ErrInvalidCadence, dow)
		}
		ahead := (dow - int(now.Weekday()) + 7) % 7
		candidate := time.Date(now.Year(), now.Month(), now.Day()+ahead, hour, minute, 0, 0, now.Location())
		if !candidate.After(now) {
			candidate = candidate.AddDate(0, 0, 7)
		}
		return candidate, nil

	case models.CadenceMonthly:
		if spec.DayOfMonth == nil {
			return time.Time{}, fmt.Errorf("%w: monthly cadence requires day_of_month", ErrInvalidCadence)
		}
		dom := *spec.DayOfMonth
		if dom < 1 || dom > 31 {
			return time.Time{}, fmt.Errorf("%w: day_of_month %d out of range 1-31", ErrInvalidCadence, dom)
		}
		for i := 0; i < 13; i++ {
			first := time.Date(now.Year(), now.Month()+time.Month(i), 1, 0, 0, 0, 0, now.Location())
			day := dom
			if last := daysIn(first); day > last {
				day = last
			}
			candidate := time.Date(first.Year(), first.Month(), day, hour, minute, 0, 0, now.Location())
			if candidate.After(now) {
				return candidate, nil
			}
		}
		// Unreachable: 13 months always contain a future occurrence.
		return time.Time{}, fmt.Errorf("%w: no occurrence found", ErrInvalidCadence)

	default:
		return time.Time{}, fmt.Errorf("%w: unknown cadence %q", ErrInvalidCadence, spec.Cadence)
	}
}

func parseTimeOfDay(s string) (hour, minute int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: time_of_day %q is not HH:MM", ErrInvalidCadence, s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("%w: time_of_day %q has invalid hour", ErrInvalidCadence, s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: time_of_day %q has invalid minute", ErrInvalidCadence, s)
	}
	return hour, minute, nil
}

// daysIn returns the number of days in the month containing t.
func daysIn(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
}

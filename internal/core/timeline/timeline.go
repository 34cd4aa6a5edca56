// Package timeline provides the calendar projections the dosage model needs:
// time-of-day and day-of-week arithmetic over absolute instants, plus
// hour-unit duration conversion for the numeric engine.
package timeline

import (
	"fmt"
	"time"
)

// TimeOfDay is a clock time within a day, independent of any date.
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

// NewTimeOfDay creates a TimeOfDay, validating each field range.
func NewTimeOfDay(hour, minute, second int) (TimeOfDay, error) {
	if hour < 0 || hour > 23 {
		return TimeOfDay{}, fmt.Errorf("hour out of range: %d", hour)
	}
	if minute < 0 || minute > 59 {
		return TimeOfDay{}, fmt.Errorf("minute out of range: %d", minute)
	}
	if second < 0 || second > 59 {
		return TimeOfDay{}, fmt.Errorf("second out of range: %d", second)
	}
	return TimeOfDay{Hour: hour, Minute: minute, Second: second}, nil
}

// SinceMidnight returns the duration from midnight to this time of day.
func (t TimeOfDay) SinceMidnight() time.Duration {
	return time.Duration(t.Hour)*time.Hour +
		time.Duration(t.Minute)*time.Minute +
		time.Duration(t.Second)*time.Second
}

// Of extracts the time of day from an absolute instant.
func Of(instant time.Time) TimeOfDay {
	return TimeOfDay{Hour: instant.Hour(), Minute: instant.Minute(), Second: instant.Second()}
}

// String formats as HH:MM:SS.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// AtDate anchors the time of day onto the calendar date of the given instant.
func (t TimeOfDay) AtDate(instant time.Time) time.Time {
	return time.Date(instant.Year(), instant.Month(), instant.Day(),
		t.Hour, t.Minute, t.Second, 0, instant.Location())
}

// NextOccurrence returns the first instant at or after ref whose time of day
// equals t. Same day if t has not yet passed at ref, otherwise the next day.
func (t TimeOfDay) NextOccurrence(ref time.Time) time.Time {
	candidate := t.AtDate(ref)
	if candidate.Before(ref) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}

// NextWeekdayOccurrence returns the first instant at or after ref falling on
// the given weekday at time of day t. The day gap wraps into [0, 7); a gap of
// zero advances a full week when t has already passed on ref's day.
func (t TimeOfDay) NextWeekdayOccurrence(ref time.Time, day time.Weekday) time.Time {
	diff := int(day) - int(ref.Weekday())
	if diff < 0 {
		diff += 7
	}
	candidate := t.AtDate(ref.AddDate(0, 0, diff))
	if candidate.Before(ref) {
		candidate = candidate.AddDate(0, 0, 7)
	}
	return candidate
}

// Hours converts a duration to fractional hours, the time unit of the
// concentration engine.
func Hours(d time.Duration) float64 {
	return d.Hours()
}

// FromHours converts fractional hours back to a duration.
func FromHours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}

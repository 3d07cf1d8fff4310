// Package schedule is the planning core: half-open time intervals, overlap
// detection, recurrence-rule matching and template materialization, and
// wall-clock status projection. Everything here is pure; persistence and the
// chat surface live in the service and bot packages.
package schedule

import "time"

// Interval is a half-open time range [From, To). Touching intervals do not
// overlap. For ordinary tasks both ends fall on the same local calendar day;
// a task ending exactly at end-of-day has To equal to the next local midnight.
type Interval struct {
	From time.Time
	To   time.Time
}

// NewInterval validates From < To.
func NewInterval(from, to time.Time) (Interval, bool) {
	if !from.Before(to) {
		return Interval{}, false
	}
	return Interval{From: from, To: to}, true
}

// Duration returns To - From.
func (iv Interval) Duration() time.Duration {
	return iv.To.Sub(iv.From)
}

// Overlaps reports whether the two half-open intervals intersect.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.From.Before(other.To) && iv.To.After(other.From)
}

// Shift moves both boundaries by delta.
func (iv Interval) Shift(delta time.Duration) Interval {
	return Interval{From: iv.From.Add(delta), To: iv.To.Add(delta)}
}

// Midnight truncates t to local midnight of its calendar day.
func Midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// SameDay reports whether a and b fall on the same local calendar day.
func SameDay(a, b time.Time) bool {
	return Midnight(a).Equal(Midnight(b))
}

// OnDate places a minutes-since-midnight range onto a concrete date.
// endMinute may be 1440, producing the next local midnight (half-open
// end-of-day).
func OnDate(date time.Time, startMinute, endMinute int) Interval {
	y, m, d := date.Date()
	loc := date.Location()
	return Interval{
		From: time.Date(y, m, d, startMinute/60, startMinute%60, 0, 0, loc),
		To:   time.Date(y, m, d, endMinute/60, endMinute%60, 0, 0, loc),
	}
}

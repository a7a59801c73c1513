package settlement

import (
	"errors"
	"time"
)

// DayLayout is the calendar-day key format used by day buckets and snapshots.
const DayLayout = "2006-01-02"

// ErrInvalidRange is returned when a range ends before it starts.
var ErrInvalidRange = errors.New("settlement: range end before start")

// DateRange is a half-open [Start, End) interval. A zero bound is unbounded.
// Location decides which calendar day a timestamp belongs to; nil means UTC.
type DateRange struct {
	Start    time.Time
	End      time.Time
	Location *time.Location
}

// DaysBetween covers the calendar days from..to inclusive in loc.
func DaysBetween(from, to time.Time, loc *time.Location) (DateRange, error) {
	if loc == nil {
		loc = time.UTC
	}
	start := startOfDay(from, loc)
	end := startOfDay(to, loc).AddDate(0, 0, 1)
	if end.Before(start) || end.Equal(start) {
		return DateRange{}, ErrInvalidRange
	}
	return DateRange{Start: start, End: end, Location: loc}, nil
}

// SingleDay covers one calendar day in loc.
func SingleDay(day time.Time, loc *time.Location) DateRange {
	rng, _ := DaysBetween(day, day, loc)
	return rng
}

// Contains reports whether t falls inside the range.
func (r DateRange) Contains(t time.Time) bool {
	if !r.Start.IsZero() && t.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && !t.Before(r.End) {
		return false
	}
	return true
}

// Loc returns the range location, defaulting to UTC.
func (r DateRange) Loc() *time.Location {
	if r.Location == nil {
		return time.UTC
	}
	return r.Location
}

// DayKey formats t as its calendar day inside the range location.
func (r DateRange) DayKey(t time.Time) string {
	return t.In(r.Loc()).Format(DayLayout)
}

// Days enumerates the day keys covered by a bounded range.
func (r DateRange) Days() []string {
	if r.Start.IsZero() || r.End.IsZero() {
		return nil
	}
	loc := r.Loc()
	var days []string
	for d := startOfDay(r.Start, loc); d.Before(r.End); d = d.AddDate(0, 0, 1) {
		days = append(days, d.Format(DayLayout))
	}
	return days
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

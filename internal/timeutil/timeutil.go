// Package timeutil holds the timestamp and calendar-day helpers
// shared by the aggregation and stats packages.
package timeutil

import "time"

// DayLayout is the calendar-day key format (YYYY-MM-DD).
const DayLayout = "2006-01-02"

// Format returns t as an RFC3339Nano UTC string, or "" for the
// zero time.
func Format(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTimestamp parses an RFC3339 timestamp with optional
// fractional seconds. Returns the zero time when s is empty or
// malformed.
func ParseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// DayKey returns the YYYY-MM-DD key of t in loc.
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DayLayout)
}

// ParseDay parses a YYYY-MM-DD key as midnight UTC.
func ParseDay(key string) (time.Time, bool) {
	t, err := time.Parse(DayLayout, key)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// YearBounds returns the first instant of year in loc and the
// first instant of the following year. The end is exclusive.
func YearBounds(year int, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, loc)
	return start, start.AddDate(1, 0, 0)
}

// InYear reports whether t falls inside year in loc.
func InYear(t time.Time, year int, loc *time.Location) bool {
	if t.IsZero() {
		return false
	}
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Year() == year
}

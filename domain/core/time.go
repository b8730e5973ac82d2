package core

import (
	"time"
)

// Day truncates t to a UTC calendar day
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NewDay builds a UTC calendar day
func NewDay(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the whole number of days from a to b
func DaysBetween(a, b time.Time) int {
	return int(Day(b).Sub(Day(a)).Hours() / 24)
}

// DaysInYear returns 366 for leap years and 365 otherwise
func DaysInYear(year int) int {
	if year%4 == 0 && (year%100 != 0 || year%400 == 0) {
		return 366
	}
	return 365
}

// DecimalYear places the middle of a calendar day on the decimal year axis,
// so 1 January of a non-leap year is year + 0.5/365.
func DecimalYear(t time.Time) float64 {
	t = Day(t)
	return float64(t.Year()) + (float64(t.YearDay())-0.5)/float64(DaysInYear(t.Year()))
}

// DayKey is the canonical string form of a calendar day
func DayKey(t time.Time) string {
	return t.Format(time.DateOnly)
}

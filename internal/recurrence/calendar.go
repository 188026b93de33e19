package recurrence

import "time"

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	// Day 0 of the next month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ClampDay limits day to the last valid day of the month.
func ClampDay(year int, month time.Month, day int) int {
	if last := DaysIn(year, month); day > last {
		return last
	}
	if day < 1 {
		return 1
	}
	return day
}

// StartOfDay truncates t to 00:00 in its own location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// addMonths moves (year, month) forward by n months without touching the day,
// so no overflow into the following month can happen.
func addMonths(year int, month time.Month, n int) (int, time.Month) {
	total := int(month) - 1 + n
	return year + total/12, time.Month(total%12 + 1)
}

// onDay builds a timestamp on the given calendar day, clamped, keeping the
// wall-clock time of clock.
func onDay(year int, month time.Month, day int, clock time.Time) time.Time {
	return time.Date(year, month, ClampDay(year, month, day),
		clock.Hour(), clock.Minute(), clock.Second(), clock.Nanosecond(), clock.Location())
}

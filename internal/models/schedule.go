package models

import "time"

// Next returns the run that follows t: +24h for daily, +7 days for weekly and
// the same day of the following month for monthly. Monthly runs landing past
// the end of a short month are clamped to its last day, so Jan 31 is followed
// by Feb 28 (or 29). The clamped day then carries forward.
func (i Interval) Next(t time.Time) time.Time {
	switch i {
	case IntervalDaily:
		return t.Add(24 * time.Hour)
	case IntervalWeekly:
		return t.Add(7 * 24 * time.Hour)
	case IntervalMonthly:
		return addMonthClamped(t)
	}
	return t
}

func addMonthClamped(t time.Time) time.Time {
	year, month, day := t.Date()
	hour, minute, sec := t.Clock()

	targetYear, targetMonth := year, month+1
	if targetMonth > time.December {
		targetYear, targetMonth = year+1, time.January
	}

	if last := daysIn(targetYear, targetMonth, t.Location()); day > last {
		day = last
	}

	return time.Date(targetYear, targetMonth, day, hour, minute, sec, t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	// Day 0 of the next month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// Message is the text recorded on a recognition paid out by this interval.
func (i Interval) Message() string {
	return "Recurring bonus (" + string(i) + ")"
}

package util

import "time"

// The calendar knows weekdays only. Exchange holidays are not modeled; a
// bar request covering a holiday simply returns nothing.

// IsTradingDay reports whether t falls on a weekday.
func IsTradingDay(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// LastTradingDay returns t stepped back to the most recent weekday.
func LastTradingDay(t time.Time) time.Time {
	for !IsTradingDay(t) {
		t = t.AddDate(0, 0, -1)
	}
	return t
}

// NextTradingDay returns the first weekday strictly after t.
func NextTradingDay(t time.Time) time.Time {
	t = t.AddDate(0, 0, 1)
	for !IsTradingDay(t) {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

package cron

import "time"

// yearLimit bounds occurrence searches. An expression that cannot match
// within this window (e.g. "0 0 30 2 *") yields the zero time.
const yearLimit = 5

// Matches reports whether the timestamp satisfies all five fields, evaluated
// in the expression's time zone.
func (e *Expression) Matches(t time.Time) bool {
	t = t.In(e.loc)
	return e.minute.match(t.Minute()) &&
		e.hour.match(t.Hour()) &&
		e.month.match(int(t.Month())) &&
		e.dayMatches(t)
}

// dayMatches applies the classic cron day rule: when both day-of-month and
// day-of-week are restricted, either may match; otherwise the restricted one
// (or both wildcards) must match.
func (e *Expression) dayMatches(t time.Time) bool {
	domOK := e.dom.match(t.Day())
	dowOK := e.dow.match(int(t.Weekday()))
	if !e.dom.star && !e.dow.star {
		return domOK || dowOK
	}
	return domOK && dowOK
}

// Next returns the first occurrence strictly after from, or the zero time if
// no occurrence exists within the search window.
func (e *Expression) Next(from time.Time) time.Time {
	t := from.In(e.loc).Truncate(time.Minute).Add(time.Minute)
	limit := t.AddDate(yearLimit, 0, 0)

	for t.Before(limit) {
		if !e.month.match(int(t.Month())) {
			// Jump to the first minute of the next month.
			t = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, e.loc).AddDate(0, 1, 0)
			continue
		}
		if !e.dayMatches(t) {
			t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, e.loc).AddDate(0, 0, 1)
			continue
		}
		if !e.hour.match(t.Hour()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, e.loc).Add(time.Hour)
			continue
		}
		if !e.minute.match(t.Minute()) {
			t = t.Add(time.Minute)
			continue
		}
		return t
	}
	return time.Time{}
}

// Previous returns the last occurrence strictly before from, or the zero
// time if no occurrence exists within the search window.
func (e *Expression) Previous(from time.Time) time.Time {
	t := from.In(e.loc).Truncate(time.Minute).Add(-time.Minute)
	limit := t.AddDate(-yearLimit, 0, 0)

	for t.After(limit) {
		if !e.month.match(int(t.Month())) {
			// Jump to the last minute of the previous month.
			t = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, e.loc).Add(-time.Minute)
			continue
		}
		if !e.dayMatches(t) {
			t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, e.loc).Add(-time.Minute)
			continue
		}
		if !e.hour.match(t.Hour()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, e.loc).Add(-time.Minute)
			continue
		}
		if !e.minute.match(t.Minute()) {
			t = t.Add(-time.Minute)
			continue
		}
		return t
	}
	return time.Time{}
}

// NextN returns up to count occurrences strictly after from, in order.
func (e *Expression) NextN(from time.Time, count int) []time.Time {
	times := make([]time.Time, 0, count)
	t := from
	for i := 0; i < count; i++ {
		t = e.Next(t)
		if t.IsZero() {
			break
		}
		times = append(times, t)
	}
	return times
}

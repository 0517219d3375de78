package recurrence

import "time"

// NextDate computes the next occurrence date from anchor, pure and
// deterministic. The anchor is the previous occurrence's due date, never the
// completion timestamp, so the schedule does not drift with user behavior.
// Termination (count) is the caller's concern; this function never looks at it.
func NextDate(anchor time.Time, p Pattern) time.Time {
	n := p.EffectiveInterval()
	switch p.Type {
	case TypeDaily:
		return anchor.AddDate(0, 0, n)
	case TypeWeekly:
		return anchor.AddDate(0, 0, 7*n)
	case TypeMonthly:
		return addMonths(anchor, n)
	case TypeYearly:
		return addYears(anchor, n)
	}
	// Unreachable for validated patterns.
	return anchor
}

// addMonths preserves the day-of-month, clamping to the last day of the
// target month when it is shorter (Jan 31 -> Feb 28/29). time.AddDate would
// normalize Jan 31 + 1 month into Mar 2/3 instead.
func addMonths(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	total := int(m) - 1 + months
	ty := y + total/12
	tm := time.Month(total%12 + 1)
	if last := daysIn(ty, tm); d > last {
		d = last
	}
	return time.Date(ty, tm, d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// addYears clamps Feb 29 anchors to Feb 28 in non-leap target years.
func addYears(t time.Time, years int) time.Time {
	y, m, d := t.Date()
	ty := y + years
	if last := daysIn(ty, m); d > last {
		d = last
	}
	return time.Date(ty, m, d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// daysIn returns the number of days in the given month.
func daysIn(y int, m time.Month) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

package allowance

import "time"

// Week is the accrual unit.
const Week = 7 * 24 * time.Hour

// WeeksPerYear converts an annual rate to a weekly one.
const WeeksPerYear = 52

// WholeWeeksBetween returns floor((to - from) / week), or 0 when to is not
// after from.
func WholeWeeksBetween(from, to time.Time) int {
	elapsed := to.Sub(from)
	if elapsed <= 0 {
		return 0
	}
	return int(elapsed / Week)
}

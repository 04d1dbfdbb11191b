package admission

import "time"

// ScheduledDays counts the days in [first, last] whose weekday is active for
// at least one of the given windows. Inactive windows do not contribute.
func ScheduledDays(windows []Window, first, last time.Time) int {
	if first.IsZero() || last.Before(first) {
		return 0
	}
	count := 0
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		for _, w := range windows {
			if w.Active && w.dayActive(d.Weekday()) {
				count++
				break
			}
		}
	}
	return count
}

// Percentage computes attendance as present days over scheduled days since
// the student's first record, clamped to [0, 100]. Returns 0 when nothing
// was scheduled.
func Percentage(windows []Window, first, last time.Time, presentDays int) float64 {
	scheduled := ScheduledDays(windows, first, last)
	if scheduled == 0 {
		return 0
	}
	pct := float64(presentDays) / float64(scheduled) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

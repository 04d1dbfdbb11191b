package admission

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Matches reports whether the window is active, lists t's weekday and
// contains t's time of day. Both bounds are inclusive.
func (w Window) Matches(t time.Time) bool {
	if !w.Active {
		return false
	}
	if !w.dayActive(t.Weekday()) {
		return false
	}
	start, err := parseClock(w.StartTime)
	if err != nil {
		return false
	}
	end, err := parseClock(w.EndTime)
	if err != nil {
		return false
	}
	minute := t.Hour()*60 + t.Minute()
	return minute >= start && minute <= end
}

// dayActive matches weekday names case-insensitively; a three-letter prefix
// like "mon" is accepted. An empty list means every day.
func (w Window) dayActive(day time.Weekday) bool {
	if len(w.DaysActive) == 0 {
		return true
	}
	name := strings.ToLower(day.String())
	for _, d := range w.DaysActive {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == name || (len(d) >= 3 && strings.HasPrefix(name, d)) {
			return true
		}
	}
	return false
}

// parseClock converts "HH:MM" (seconds tolerated and ignored) to minutes
// after midnight.
func parseClock(s string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 3)
	if len(parts) < 2 {
		return 0, fmt.Errorf("invalid clock value %q", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid clock value %q", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid clock value %q", s)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("clock value %q out of range", s)
	}
	return hour*60 + minute, nil
}

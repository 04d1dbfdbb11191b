package admission

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func day(d int) time.Time {
	return time.Date(2026, 3, d, 0, 0, 0, 0, time.UTC)
}

func TestScheduledDays(t *testing.T) {
	weekdays := Window{
		StartTime: "09:45", EndTime: "10:45", Active: true,
		DaysActive: []string{"monday", "tuesday", "wednesday", "thursday", "friday"},
	}

	// March 2-8 2026 is Monday through Sunday.
	assert.Equal(t, 5, ScheduledDays([]Window{weekdays}, day(2), day(8)))
	assert.Equal(t, 1, ScheduledDays([]Window{weekdays}, day(2), day(2)))
	// Saturday and Sunday only
	assert.Equal(t, 0, ScheduledDays([]Window{weekdays}, day(7), day(8)))

	everyday := Window{StartTime: "09:45", EndTime: "10:45", Active: true}
	assert.Equal(t, 7, ScheduledDays([]Window{everyday}, day(2), day(8)))

	inactive := weekdays
	inactive.Active = false
	assert.Equal(t, 0, ScheduledDays([]Window{inactive}, day(2), day(8)))

	// two windows on the same day still count the day once
	assert.Equal(t, 7, ScheduledDays([]Window{weekdays, everyday}, day(2), day(8)))

	assert.Equal(t, 0, ScheduledDays([]Window{everyday}, time.Time{}, day(8)))
	assert.Equal(t, 0, ScheduledDays([]Window{everyday}, day(8), day(2)))
}

func TestPercentage(t *testing.T) {
	weekdays := Window{
		StartTime: "09:45", EndTime: "10:45", Active: true,
		DaysActive: []string{"monday", "tuesday", "wednesday", "thursday", "friday"},
	}

	assert.InDelta(t, 60.0, Percentage([]Window{weekdays}, day(2), day(8), 3), 0.001)
	assert.InDelta(t, 100.0, Percentage([]Window{weekdays}, day(2), day(8), 5), 0.001)
	// more present days than scheduled clamps at 100
	assert.InDelta(t, 100.0, Percentage([]Window{weekdays}, day(2), day(8), 9), 0.001)
	// nothing scheduled
	assert.Zero(t, Percentage(nil, day(2), day(8), 3))
}

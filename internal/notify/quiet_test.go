package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQuietHoursActive(t *testing.T) {
	window := func(start, end, tz string) *channelWindow {
		return &channelWindow{enabled: true, start: start, end: end, timezone: tz}
	}
	at := func(hour, min int) time.Time {
		return time.Date(2026, 3, 1, hour, min, 0, 0, time.UTC)
	}

	tests := []struct {
		name string
		win  *channelWindow
		now  time.Time
		want bool
	}{
		{"inside simple window", window("09:00", "17:00", "UTC"), at(12, 0), true},
		{"before simple window", window("09:00", "17:00", "UTC"), at(8, 59), false},
		{"end is exclusive", window("09:00", "17:00", "UTC"), at(17, 0), false},
		{"start is inclusive", window("09:00", "17:00", "UTC"), at(9, 0), true},
		{"wrap-around late evening", window("22:00", "07:00", "UTC"), at(23, 30), true},
		{"wrap-around early morning", window("22:00", "07:00", "UTC"), at(6, 59), true},
		{"wrap-around midday", window("22:00", "07:00", "UTC"), at(12, 0), false},
		{"wrap-around end exclusive", window("22:00", "07:00", "UTC"), at(7, 0), false},
		{"degenerate equal window", window("08:00", "08:00", "UTC"), at(8, 0), false},
		{"disabled", &channelWindow{enabled: false, start: "00:00", end: "23:59", timezone: "UTC"}, at(12, 0), false},
		{"bad timezone never quiet", window("00:00", "23:59", "Mars/Olympus"), at(12, 0), false},
		{"bad clock never quiet", window("25:00", "07:00", "UTC"), at(12, 0), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, quietHoursActive(tc.win, tc.now))
		})
	}
}

// A UTC instant inside the window of one timezone can be outside it in
// another; the check follows the channel's timezone.
func TestQuietHoursTimezoneAware(t *testing.T) {
	win := &channelWindow{enabled: true, start: "22:00", end: "07:00", timezone: "America/New_York"}
	// 03:00 UTC == 22:00 or 23:00 in New York depending on DST; either way
	// inside the window.
	assert.True(t, quietHoursActive(win, time.Date(2026, 3, 1, 3, 30, 0, 0, time.UTC)))
	// 18:00 UTC == early afternoon in New York.
	assert.False(t, quietHoursActive(win, time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)))
}

func TestParseClock(t *testing.T) {
	m, err := parseClock("22:30")
	assert.NoError(t, err)
	assert.Equal(t, 22*60+30, m)

	_, err = parseClock("7pm")
	assert.Error(t, err)
	_, err = parseClock("24:00")
	assert.Error(t, err)
}

package notify

import (
	"fmt"
	"time"
)

// quietHoursActive reports whether the channel's quiet window covers now.
// The window is [start, end) in the channel's timezone and may wrap past
// midnight (22:00-07:00). An unparsable window counts as inactive so a
// misconfigured channel still delivers.
func quietHoursActive(ch *channelWindow, now time.Time) bool {
	if !ch.enabled {
		return false
	}
	loc, err := time.LoadLocation(ch.timezone)
	if err != nil {
		return false
	}
	start, err := parseClock(ch.start)
	if err != nil {
		return false
	}
	end, err := parseClock(ch.end)
	if err != nil {
		return false
	}
	if start == end {
		// Degenerate window: never quiet.
		return false
	}
	local := now.In(loc)
	minute := local.Hour()*60 + local.Minute()
	if start < end {
		return minute >= start && minute < end
	}
	// Wrap-around window, e.g. 22:00-07:00.
	return minute >= start || minute < end
}

type channelWindow struct {
	enabled  bool
	start    string
	end      string
	timezone string
}

// parseClock converts "HH:MM" to minutes since midnight.
func parseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("notify: parse clock %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("notify: clock %q out of range", s)
	}
	return h*60 + m, nil
}

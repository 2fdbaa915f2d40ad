// Package timeutil holds pure time helpers shared by the throttle enforcer,
// the queue engine and the analytics aggregators. Everything operates in UTC.
package timeutil

import (
	"math/rand"
	"time"
)

// StartOfDay returns the UTC midnight preceding t.
func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// NextMidnight returns the first UTC midnight strictly after t.
func NextMidnight(t time.Time) time.Time {
	return StartOfDay(t).Add(24 * time.Hour)
}

// StartOfHour truncates t to the containing UTC hour bucket.
func StartOfHour(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// WindowExpired reports whether a rolling window that started at start has
// lapsed by now. A zero start is treated as expired so fresh rows reset
// immediately.
func WindowExpired(start, now time.Time, width time.Duration) bool {
	if start.IsZero() {
		return true
	}
	return now.Sub(start) >= width
}

// Backoff computes the delay before attempt n (1-based) as
// base * multiplier^(n-1), capped at max, with ±25% jitter applied after the
// cap. A non-positive attempt is treated as attempt 1.
func Backoff(base time.Duration, multiplier float64, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(base)
	for i := 1; i < attempt; i++ {
		d *= multiplier
		if d >= float64(max) {
			d = float64(max)
			break
		}
	}
	if d > float64(max) {
		d = float64(max)
	}
	return Jitter(time.Duration(d), 0.25)
}

// Jitter applies a uniform ±fraction jitter to d. The result is never
// negative.
func Jitter(d time.Duration, fraction float64) time.Duration {
	if d <= 0 || fraction <= 0 {
		return d
	}
	delta := (rand.Float64()*2 - 1) * fraction * float64(d)
	out := time.Duration(float64(d) + delta)
	if out < 0 {
		return 0
	}
	return out
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fetcharr/fetcharr/internal/model"
	"github.com/fetcharr/fetcharr/internal/timeutil"
	"github.com/jmoiron/sqlx"
)

// ThrottleLimits are the effective profile values TryConsume enforces.
type ThrottleLimits struct {
	RequestsPerMinute     int
	DailyBudget           int64 // <= 0 means unlimited
	RateLimitPauseSeconds int
}

// ThrottleDecision is the outcome of one consumption attempt.
type ThrottleDecision struct {
	Allowed     bool
	PausedUntil time.Time
	Reason      model.PauseReason
}

// ResetCounts summarises one ResetExpiredWindows pass.
type ResetCounts struct {
	MinuteResets  int
	DayResets     int
	PausesCleared int
}

// TryConsumeThrottle atomically increments the per-connector counters if and
// only if the limits allow it. The row lock serializes concurrent callers
// for the same connector, so the counters never exceed their limits.
//
// Expired windows are rolled forward in the same transaction: the minute
// window restarts at now (not the wall-clock minute boundary; see design
// notes), the day window restarts at the UTC day start.
func (s *Store) TryConsumeThrottle(ctx context.Context, connectorID int64, lim ThrottleLimits, now time.Time) (ThrottleDecision, error) {
	now = now.UTC()
	var dec ThrottleDecision
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var st model.ThrottleState
		err := tx.GetContext(ctx, &st,
			`SELECT * FROM throttle_state WHERE connector_id = $1 FOR UPDATE`, connectorID)
		if errors.Is(err, sql.ErrNoRows) {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO throttle_state (connector_id, minute_window_start, day_window_start) VALUES ($1, $2, $3)`,
				connectorID, now, timeutil.StartOfDay(now)); err != nil {
				return fmt.Errorf("store: seed throttle state: %w", err)
			}
			st = model.ThrottleState{ConnectorID: connectorID, MinuteWindowStart: now, DayWindowStart: timeutil.StartOfDay(now)}
		} else if err != nil {
			return fmt.Errorf("store: lock throttle state: %w", err)
		}

		if st.PausedUntil.Valid && st.PausedUntil.Time.After(now) {
			dec = ThrottleDecision{Allowed: false, PausedUntil: st.PausedUntil.Time, Reason: model.PauseReason(st.PauseReason.String)}
			return nil
		}

		minute := st.RequestsThisMinute
		day := st.RequestsToday
		minuteStart := st.MinuteWindowStart
		dayStart := st.DayWindowStart
		if timeutil.WindowExpired(minuteStart, now, time.Minute) {
			minute = 0
			minuteStart = now
		}
		if dayStart.Before(timeutil.StartOfDay(now)) {
			day = 0
			dayStart = timeutil.StartOfDay(now)
		}

		if lim.DailyBudget > 0 && int64(day) >= lim.DailyBudget {
			until := timeutil.NextMidnight(now)
			dec = ThrottleDecision{Allowed: false, PausedUntil: until, Reason: model.PauseDailyBudget}
			_, err := tx.ExecContext(ctx, `
				UPDATE throttle_state
				SET requests_this_minute = $2, requests_today = $3,
				    minute_window_start = $4, day_window_start = $5,
				    paused_until = $6, pause_reason = $7
				WHERE connector_id = $1`,
				connectorID, minute, day, minuteStart, dayStart, until, model.PauseDailyBudget)
			if err != nil {
				return fmt.Errorf("store: record daily pause: %w", err)
			}
			return nil
		}

		if lim.RequestsPerMinute > 0 && minute >= lim.RequestsPerMinute {
			until := now.Add(time.Duration(lim.RateLimitPauseSeconds) * time.Second)
			dec = ThrottleDecision{Allowed: false, PausedUntil: until, Reason: model.PauseRateLimit}
			_, err := tx.ExecContext(ctx, `
				UPDATE throttle_state
				SET requests_this_minute = $2, requests_today = $3,
				    minute_window_start = $4, day_window_start = $5,
				    paused_until = $6, pause_reason = $7
				WHERE connector_id = $1`,
				connectorID, minute, day, minuteStart, dayStart, until, model.PauseRateLimit)
			if err != nil {
				return fmt.Errorf("store: record rate pause: %w", err)
			}
			return nil
		}

		dec = ThrottleDecision{Allowed: true}
		_, err = tx.ExecContext(ctx, `
			UPDATE throttle_state
			SET requests_this_minute = $2, requests_today = $3,
			    minute_window_start = $4, day_window_start = $5,
			    paused_until = NULL, pause_reason = NULL, last_request_at = $6
			WHERE connector_id = $1`,
			connectorID, minute+1, day+1, minuteStart, dayStart, now)
		if err != nil {
			return fmt.Errorf("store: consume throttle: %w", err)
		}
		return nil
	})
	return dec, err
}

// ResetExpiredThrottleWindows rolls forward every expired window and clears
// lapsed pauses across all connectors.
func (s *Store) ResetExpiredThrottleWindows(ctx context.Context, now time.Time) (ResetCounts, error) {
	now = now.UTC()
	dayStart := timeutil.StartOfDay(now)
	var counts ResetCounts
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE throttle_state
			SET requests_this_minute = 0, minute_window_start = $1
			WHERE $1 - minute_window_start >= INTERVAL '60 seconds'`, now)
		if err != nil {
			return fmt.Errorf("store: reset minute windows: %w", err)
		}
		n, _ := res.RowsAffected()
		counts.MinuteResets = int(n)

		// Day rollover also clears pauses caused by the exhausted budget.
		res, err = tx.ExecContext(ctx, `
			UPDATE throttle_state
			SET requests_today = 0, day_window_start = $1,
			    paused_until = CASE WHEN pause_reason = 'daily_budget_exhausted' THEN NULL ELSE paused_until END,
			    pause_reason = CASE WHEN pause_reason = 'daily_budget_exhausted' THEN NULL ELSE pause_reason END
			WHERE day_window_start < $1`, dayStart)
		if err != nil {
			return fmt.Errorf("store: reset day windows: %w", err)
		}
		n, _ = res.RowsAffected()
		counts.DayResets = int(n)

		res, err = tx.ExecContext(ctx, `
			UPDATE throttle_state
			SET paused_until = NULL, pause_reason = NULL
			WHERE paused_until IS NOT NULL AND paused_until < $1`, now)
		if err != nil {
			return fmt.Errorf("store: clear lapsed pauses: %w", err)
		}
		n, _ = res.RowsAffected()
		counts.PausesCleared = int(n)
		return nil
	})
	return counts, err
}

// SetThrottlePause records an explicit pause.
func (s *Store) SetThrottlePause(ctx context.Context, connectorID int64, until time.Time, reason model.PauseReason) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE throttle_state SET paused_until = $2, pause_reason = $3 WHERE connector_id = $1`,
		connectorID, until.UTC(), reason)
	if err != nil {
		return fmt.Errorf("store: set pause: %w", err)
	}
	return nil
}

// ClearThrottlePause removes any pause.
func (s *Store) ClearThrottlePause(ctx context.Context, connectorID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE throttle_state SET paused_until = NULL, pause_reason = NULL WHERE connector_id = $1`,
		connectorID)
	if err != nil {
		return fmt.Errorf("store: clear pause: %w", err)
	}
	return nil
}

// ThrottleState fetches the runtime counters for one connector.
func (s *Store) ThrottleState(ctx context.Context, connectorID int64) (*model.ThrottleState, error) {
	var st model.ThrottleState
	if err := s.db.GetContext(ctx, &st,
		`SELECT * FROM throttle_state WHERE connector_id = $1`, connectorID); err != nil {
		return nil, fmt.Errorf("store: get throttle state: %w", err)
	}
	return &st, nil
}

// ThrottleProfiles lists every profile.
func (s *Store) ThrottleProfiles(ctx context.Context) ([]model.ThrottleProfile, error) {
	var out []model.ThrottleProfile
	if err := s.db.SelectContext(ctx, &out, `SELECT * FROM throttle_profiles ORDER BY id`); err != nil {
		return nil, fmt.Errorf("store: list profiles: %w", err)
	}
	return out, nil
}

// ThrottleProfile fetches one profile by id.
func (s *Store) ThrottleProfile(ctx context.Context, id int64) (*model.ThrottleProfile, error) {
	var p model.ThrottleProfile
	if err := s.db.GetContext(ctx, &p, `SELECT * FROM throttle_profiles WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("store: get profile %d: %w", id, err)
	}
	return &p, nil
}

// DefaultThrottleProfile fetches the profile flagged as default, if any.
func (s *Store) DefaultThrottleProfile(ctx context.Context) (*model.ThrottleProfile, error) {
	var p model.ThrottleProfile
	err := s.db.GetContext(ctx, &p, `SELECT * FROM throttle_profiles WHERE is_default LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get default profile: %w", err)
	}
	return &p, nil
}

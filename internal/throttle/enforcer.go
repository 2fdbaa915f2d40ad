// Package throttle gates every outbound search dispatch against the
// per-connector request budgets. The counters live in throttle_state and
// are consumed atomically; this package resolves the effective profile and
// interprets the decision.
package throttle

import (
	"context"
	"strconv"
	"time"

	"github.com/fetcharr/fetcharr/internal/log"
	"github.com/fetcharr/fetcharr/internal/metrics"
	"github.com/fetcharr/fetcharr/internal/model"
	"github.com/fetcharr/fetcharr/internal/store"
)

// FallbackProfile is the built-in preset used when neither the connector
// nor the store carries a profile.
var FallbackProfile = model.ThrottleProfile{
	Name:                  "builtin",
	RequestsPerMinute:     5,
	BatchSize:             5,
	BatchCooldownSeconds:  30,
	RateLimitPauseSeconds: 300,
}

// Decision is the outcome of one TryConsume call.
type Decision struct {
	Allowed     bool
	PausedUntil time.Time
	Reason      model.PauseReason
}

// Enforcer enforces request budgets per connector.
type Enforcer struct {
	store *store.Store
	clock func() time.Time

	// OnDenied, when set, observes every denial. It runs inline on the
	// dispatch path and must not block; callers dedupe on their side.
	OnDenied func(ctx context.Context, conn *model.Connector, dec Decision)
}

// New builds an Enforcer over the store. clock may be nil (wall clock).
func New(st *store.Store, clock func() time.Time) *Enforcer {
	if clock == nil {
		clock = time.Now
	}
	return &Enforcer{store: st, clock: clock}
}

// ResolveProfile returns the effective profile for a connector: the
// connector-assigned profile, else the store default, else the built-in
// fallback. Resolution is deterministic; callers cache the result for the
// duration of one batch.
func (e *Enforcer) ResolveProfile(ctx context.Context, conn *model.Connector) (*model.ThrottleProfile, error) {
	if conn.ThrottleProfileID.Valid {
		p, err := e.store.ThrottleProfile(ctx, conn.ThrottleProfileID.Int64)
		if err == nil {
			return p, nil
		}
		logger := log.WithComponentFromContext(ctx, "throttle")
		logger.Warn().
			Err(err).
			Int64(log.FieldConnectorID, conn.ID).
			Msg("assigned throttle profile unavailable, falling back")
	}
	p, err := e.store.DefaultThrottleProfile(ctx)
	if err != nil {
		return nil, err
	}
	if p != nil {
		return p, nil
	}
	fallback := FallbackProfile
	return &fallback, nil
}

// TryConsume atomically consumes one request slot for the connector. A
// denial is not an error: the decision carries the pause horizon and the
// reason instead.
func (e *Enforcer) TryConsume(ctx context.Context, conn *model.Connector, profile *model.ThrottleProfile) (Decision, error) {
	lim := store.ThrottleLimits{
		RequestsPerMinute:     profile.RequestsPerMinute,
		RateLimitPauseSeconds: profile.RateLimitPauseSeconds,
	}
	if profile.DailyBudget.Valid {
		lim.DailyBudget = profile.DailyBudget.Int64
	}
	dec, err := e.store.TryConsumeThrottle(ctx, conn.ID, lim, e.clock())
	if err != nil {
		return Decision{}, err
	}
	out := Decision{Allowed: dec.Allowed, PausedUntil: dec.PausedUntil, Reason: dec.Reason}
	if !dec.Allowed {
		metrics.ThrottleDenials.WithLabelValues(strconv.FormatInt(conn.ID, 10), string(dec.Reason)).Inc()
		if e.OnDenied != nil {
			e.OnDenied(ctx, conn, out)
		}
	}
	return out, nil
}

// ResetExpiredWindows rolls forward expired minute/day windows and clears
// lapsed pauses across all connectors.
func (e *Enforcer) ResetExpiredWindows(ctx context.Context) (store.ResetCounts, error) {
	counts, err := e.store.ResetExpiredThrottleWindows(ctx, e.clock())
	if err != nil {
		return counts, err
	}
	if counts.MinuteResets > 0 || counts.DayResets > 0 || counts.PausesCleared > 0 {
		logger := log.WithComponentFromContext(ctx, "throttle")
		logger.Debug().
			Str("event", "windows.reset").
			Int("minute_resets", counts.MinuteResets).
			Int("day_resets", counts.DayResets).
			Int("pauses_cleared", counts.PausesCleared).
			Msg("throttle windows reset")
	}
	return counts, nil
}

// SetPause records an explicit pause until the given time.
func (e *Enforcer) SetPause(ctx context.Context, connectorID int64, until time.Time, reason model.PauseReason) error {
	return e.store.SetThrottlePause(ctx, connectorID, until, reason)
}

// ClearPause removes any pause.
func (e *Enforcer) ClearPause(ctx context.Context, connectorID int64) error {
	return e.store.ClearThrottlePause(ctx, connectorID)
}

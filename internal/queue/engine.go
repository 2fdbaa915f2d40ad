// Package queue drives the search registry state machine: it claims queued
// registries in priority order, spends throttle budget, dispatches search
// commands upstream and routes failures into cooldown, exhaustion and the
// backlog tiers.
package queue

import (
	"context"
	"errors"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fetcharr/fetcharr/internal/analytics"
	"github.com/fetcharr/fetcharr/internal/arr"
	"github.com/fetcharr/fetcharr/internal/log"
	"github.com/fetcharr/fetcharr/internal/metrics"
	"github.com/fetcharr/fetcharr/internal/model"
	"github.com/fetcharr/fetcharr/internal/throttle"
	"github.com/fetcharr/fetcharr/internal/timeutil"
)

// Store is the registry and dispatch persistence surface the engine
// consumes. *store.Store satisfies it; tests substitute fakes.
type Store interface {
	HealthyConnectors(ctx context.Context) ([]model.Connector, error)
	ReenqueueEligibleCooldown(ctx context.Context, connectorID int64, now time.Time) (int, error)
	ClaimBatch(ctx context.Context, connectorID int64, limit int) ([]model.Registry, error)
	RevertToQueued(ctx context.Context, ids []int64) error
	MarkDispatched(ctx context.Context, id int64) error
	FailToCooldown(ctx context.Context, id int64, nextEligibleAt time.Time, maxAttempts int) (model.RegistryState, error)
	PromoteBacklogTier(ctx context.Context, id int64) error
	RecoverOrphanedSearches(ctx context.Context, staleBefore time.Time) (int, error)
	RecoverBacklog(ctx context.Context, tierDelays map[int]time.Duration, now time.Time) (int, error)
	EpisodeUpstreamID(ctx context.Context, id int64) (int64, error)
	MovieUpstreamID(ctx context.Context, id int64) (int64, error)
	InsertPendingCommand(ctx context.Context, c *model.PendingCommand) error
	InsertSearchHistory(ctx context.Context, connectorID int64, contentType, searchType, outcome string, contentID int64, durationMs int) error
}

// Throttle is the budget surface. *throttle.Enforcer satisfies it.
type Throttle interface {
	ResolveProfile(ctx context.Context, conn *model.Connector) (*model.ThrottleProfile, error)
	TryConsume(ctx context.Context, conn *model.Connector, profile *model.ThrottleProfile) (throttle.Decision, error)
	SetPause(ctx context.Context, connectorID int64, until time.Time, reason model.PauseReason) error
}

// Recorder receives analytics events. *analytics.Collector satisfies it.
type Recorder interface {
	Record(ctx context.Context, connectorID int64, ev analytics.Event)
}

// ClientResolver yields a ready client for a connector, decrypting its API
// key as needed.
type ClientResolver func(ctx context.Context, conn *model.Connector) (arr.ClientInterface, error)

// Config tunes the dispatch state machine.
type Config struct {
	// MaxAttempts before a registry is exhausted.
	MaxAttempts int
	// CooldownBase, CooldownMultiplier and CooldownMax shape the failure
	// backoff: base * multiplier^(attempt-1), capped, jittered.
	CooldownBase       time.Duration
	CooldownMultiplier float64
	CooldownMax        time.Duration
	// OrphanStaleAfter is how long a row may sit in searching before crash
	// recovery reverts it.
	OrphanStaleAfter time.Duration
	// TierDelays maps backlog tier -> retry horizon for exhausted rows.
	TierDelays map[int]time.Duration
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:        10,
		CooldownBase:       15 * time.Minute,
		CooldownMultiplier: 2,
		CooldownMax:        24 * time.Hour,
		OrphanStaleAfter:   10 * time.Minute,
		TierDelays: map[int]time.Duration{
			1: 7 * 24 * time.Hour,
			2: 30 * 24 * time.Hour,
			3: 90 * 24 * time.Hour,
		},
	}
}

// Engine owns one dispatch pass over all healthy connectors. Connectors are
// processed concurrently; registries within a connector strictly in priority
// order.
type Engine struct {
	store    Store
	throttle Throttle
	events   Recorder
	clients  ClientResolver
	cfg      Config
	clock    func() time.Time
}

// New builds an Engine. clock may be nil (wall clock).
func New(st Store, th Throttle, events Recorder, clients ClientResolver, cfg Config, clock func() time.Time) *Engine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.CooldownBase <= 0 {
		cfg.CooldownBase = DefaultConfig().CooldownBase
	}
	if cfg.CooldownMultiplier <= 1 {
		cfg.CooldownMultiplier = DefaultConfig().CooldownMultiplier
	}
	if cfg.CooldownMax <= 0 {
		cfg.CooldownMax = DefaultConfig().CooldownMax
	}
	if cfg.OrphanStaleAfter <= 0 {
		cfg.OrphanStaleAfter = DefaultConfig().OrphanStaleAfter
	}
	if len(cfg.TierDelays) == 0 {
		cfg.TierDelays = DefaultConfig().TierDelays
	}
	if clock == nil {
		clock = time.Now
	}
	return &Engine{store: st, throttle: th, events: events, clients: clients, cfg: cfg, clock: clock}
}

// ProcessAll runs one dispatch pass: orphan recovery, then per-connector
// re-enqueue, claim and dispatch. One batch per connector per pass; the
// scheduler provides the cadence between batches.
func (e *Engine) ProcessAll(ctx context.Context) error {
	now := e.clock()
	recovered, err := e.store.RecoverOrphanedSearches(ctx, now.Add(-e.cfg.OrphanStaleAfter))
	if err != nil {
		return err
	}
	if recovered > 0 {
		logger := log.WithComponentFromContext(ctx, "queue")
		logger.Warn().
			Str("event", "dispatch.orphans_recovered").
			Int("recovered", recovered).
			Msg("reverted stale searching registries to queued")
	}

	conns, err := e.store.HealthyConnectors(ctx)
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, conn := range conns {
		conn := conn
		g.Go(func() error {
			return e.ProcessConnector(gctx, &conn)
		})
	}
	return g.Wait()
}

// ProcessConnector dispatches one batch for a single connector.
func (e *Engine) ProcessConnector(ctx context.Context, conn *model.Connector) error {
	ctx = log.ContextWithConnectorID(ctx, conn.ID)
	logger := log.WithComponentFromContext(ctx, "queue")

	// Pending rows are enqueued by the discovery sweep, not here: a row a
	// dispatch returned to pending waits for the next sweep to resolve or
	// re-enqueue it instead of being re-dispatched a minute later.
	if _, err := e.store.ReenqueueEligibleCooldown(ctx, conn.ID, e.clock()); err != nil {
		return err
	}

	profile, err := e.throttle.ResolveProfile(ctx, conn)
	if err != nil {
		return err
	}
	batch, err := e.store.ClaimBatch(ctx, conn.ID, profile.BatchSize)
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}
	client, err := e.clients(ctx, conn)
	if err != nil {
		// Nothing can be dispatched; release the whole claim.
		if rerr := e.revert(ctx, batch); rerr != nil {
			logger.Error().Err(rerr).Msg("failed to revert claimed batch")
		}
		return err
	}

	for i, reg := range batch {
		dec, err := e.throttle.TryConsume(ctx, conn, profile)
		if err != nil {
			if rerr := e.revert(ctx, batch[i:]); rerr != nil {
				logger.Error().Err(rerr).Msg("failed to revert claimed batch")
			}
			return err
		}
		if !dec.Allowed {
			logger.Info().
				Str("event", "dispatch.throttled").
				Str("reason", string(dec.Reason)).
				Time("paused_until", dec.PausedUntil).
				Int("reverted", len(batch)-i).
				Msg("throttle denied mid-batch, remainder requeued")
			return e.revert(ctx, batch[i:])
		}

		stop, err := e.dispatchOne(ctx, client, conn, &batch[i])
		if err != nil {
			logger.Error().Err(err).
				Int64(log.FieldRegistryID, reg.ID).
				Msg("dispatch bookkeeping failed")
		}
		if stop {
			// Upstream rate limited: the current row and the rest of the
			// batch go back to queued behind the connector pause.
			return e.revert(ctx, batch[i:])
		}
	}
	return nil
}

// dispatchOne sends one search command. The returned stop flag aborts the
// batch (upstream 429); the error covers bookkeeping failures only.
func (e *Engine) dispatchOne(ctx context.Context, client arr.ClientInterface, conn *model.Connector, reg *model.Registry) (bool, error) {
	logger := log.WithComponentFromContext(ctx, "queue")

	upstreamID, name, err := e.resolveTarget(ctx, reg)
	if err != nil {
		// Content row vanished under the registry; fail it towards
		// exhaustion rather than blocking the batch.
		return false, e.failRegistry(ctx, conn, reg, "content_missing")
	}

	start := e.clock()
	commandID, err := client.DispatchSearch(ctx, name, []int64{upstreamID})
	durationMs := int(e.clock().Sub(start).Milliseconds())

	if err != nil {
		if errors.Is(err, arr.ErrRateLimited) {
			until := e.pauseHorizon(err)
			if perr := e.throttle.SetPause(ctx, conn.ID, until, model.PauseRateLimit); perr != nil {
				logger.Error().Err(perr).Msg("failed to record rate-limit pause")
			}
			logger.Warn().
				Str("event", "dispatch.rate_limited").
				Int64(log.FieldRegistryID, reg.ID).
				Time("paused_until", until).
				Msg("upstream rate limited, pausing connector")
			return true, nil
		}
		logger.Warn().
			Str("event", "dispatch.failed").
			Int64(log.FieldRegistryID, reg.ID).
			Str("category", string(arr.CategoryOf(err))).
			Err(err).
			Msg("search dispatch failed")
		return false, e.failRegistry(ctx, conn, reg, string(arr.CategoryOf(err)))
	}

	if err := e.store.MarkDispatched(ctx, reg.ID); err != nil {
		return false, err
	}
	pc := &model.PendingCommand{
		ConnectorID:   conn.ID,
		CommandID:     commandID,
		ContentType:   reg.ContentType,
		ContentID:     reg.ContentID,
		CommandStatus: model.CommandQueued,
		DispatchedAt:  e.clock(),
	}
	if err := e.store.InsertPendingCommand(ctx, pc); err != nil {
		return false, err
	}
	if err := e.store.InsertSearchHistory(ctx, conn.ID, string(reg.ContentType), string(reg.SearchType), "dispatched", reg.ContentID, durationMs); err != nil {
		logger.Error().Err(err).Msg("failed to record search history")
	}
	e.events.Record(ctx, conn.ID, analytics.SearchDispatched{
		ContentType: string(reg.ContentType),
		ContentID:   reg.ContentID,
		SearchType:  string(reg.SearchType),
		CommandID:   commandID,
		DurationMs:  int64(durationMs),
	})
	metrics.SearchesDispatched.WithLabelValues(
		strconv.FormatInt(conn.ID, 10), string(reg.ContentType), string(reg.SearchType)).Inc()
	logger.Info().
		Str("event", "dispatch.accepted").
		Int64(log.FieldRegistryID, reg.ID).
		Int64("command_id", commandID).
		Str(log.FieldContentType, string(reg.ContentType)).
		Str("search_type", string(reg.SearchType)).
		Msg("search command accepted upstream")
	return false, nil
}

// failRegistry moves a failed registry into cooldown or exhaustion with a
// jittered backoff, promoting the backlog tier when an already-recovered row
// exhausts again.
func (e *Engine) failRegistry(ctx context.Context, conn *model.Connector, reg *model.Registry, category string) error {
	delay := timeutil.Backoff(e.cfg.CooldownBase, e.cfg.CooldownMultiplier, e.cfg.CooldownMax, reg.AttemptCount+1)
	state, err := e.store.FailToCooldown(ctx, reg.ID, e.clock().Add(delay), e.cfg.MaxAttempts)
	if err != nil {
		return err
	}
	if state == model.StateExhausted && reg.BacklogTier >= 1 {
		if err := e.store.PromoteBacklogTier(ctx, reg.ID); err != nil {
			return err
		}
	}
	if herr := e.store.InsertSearchHistory(ctx, conn.ID, string(reg.ContentType), string(reg.SearchType), "failed", reg.ContentID, 0); herr != nil {
		logger := log.WithComponentFromContext(ctx, "queue")
		logger.Error().Err(herr).Msg("failed to record search history")
	}
	e.events.Record(ctx, conn.ID, analytics.SearchFailed{
		ContentType: string(reg.ContentType),
		ContentID:   reg.ContentID,
		SearchType:  string(reg.SearchType),
		Category:    category,
		Attempts:    reg.AttemptCount + 1,
	})
	metrics.SearchFailures.WithLabelValues(strconv.FormatInt(conn.ID, 10), category).Inc()
	return nil
}

func (e *Engine) resolveTarget(ctx context.Context, reg *model.Registry) (int64, arr.CommandName, error) {
	switch reg.ContentType {
	case model.ContentEpisode:
		id, err := e.store.EpisodeUpstreamID(ctx, reg.ContentID)
		return id, arr.CommandEpisodeSearch, err
	default:
		id, err := e.store.MovieUpstreamID(ctx, reg.ContentID)
		return id, arr.CommandMoviesSearch, err
	}
}

// pauseHorizon derives the pause end from Retry-After when the upstream
// provided one, else a conservative 5 minutes.
func (e *Engine) pauseHorizon(err error) time.Time {
	now := e.clock()
	var ae *arr.Error
	if errors.As(err, &ae) && ae.RetryAfter > 0 {
		return now.Add(ae.RetryAfter)
	}
	return now.Add(5 * time.Minute)
}

func (e *Engine) revert(ctx context.Context, regs []model.Registry) error {
	ids := make([]int64, 0, len(regs))
	for _, r := range regs {
		ids = append(ids, r.ID)
	}
	return e.store.RevertToQueued(ctx, ids)
}

// RecoverBacklog migrates exhausted registries into cooldown at their
// backlog tier. Invoked by the maintenance job.
func (e *Engine) RecoverBacklog(ctx context.Context) (int, error) {
	n, err := e.store.RecoverBacklog(ctx, e.cfg.TierDelays, e.clock())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger := log.WithComponentFromContext(ctx, "queue")
		logger.Info().
			Str("event", "backlog.recovered").
			Int("migrated", n).
			Msg("exhausted registries migrated to backlog cooldown")
	}
	return n, nil
}

// Package reconnect brings offline connectors back: it probes connectors
// whose next attempt is due, restores their health on success and pushes the
// next probe out with a monotonic exponential backoff on failure.
package reconnect

import (
	"context"
	"strconv"
	"time"

	"github.com/fetcharr/fetcharr/internal/arr"
	"github.com/fetcharr/fetcharr/internal/log"
	"github.com/fetcharr/fetcharr/internal/metrics"
	"github.com/fetcharr/fetcharr/internal/model"
	"github.com/fetcharr/fetcharr/internal/timeutil"
)

// Store is the persistence surface the controller consumes. *store.Store
// satisfies it.
type Store interface {
	DueReconnects(ctx context.Context, now time.Time) ([]model.SyncState, error)
	Connector(ctx context.Context, id int64) (*model.Connector, error)
	BeginReconnect(ctx context.Context, connectorID int64, firstAttemptAt time.Time) error
	RecordReconnectFailure(ctx context.Context, connectorID int64, nextAt time.Time, lastError string) error
	ResetReconnect(ctx context.Context, connectorID int64) error
	PauseReconnect(ctx context.Context, connectorID int64) error
	ResumeReconnect(ctx context.Context, connectorID int64, nextAt time.Time) error
	UpdateConnectorHealth(ctx context.Context, id int64, status model.HealthStatus) error
}

// ClientResolver yields a ready client for a connector.
type ClientResolver func(ctx context.Context, conn *model.Connector) (arr.ClientInterface, error)

// Config tunes the probe backoff.
type Config struct {
	// BackoffBase and BackoffMax bound the attempt schedule:
	// base * 2^(attempts), capped. The schedule is monotonic: the horizon
	// never moves closer on repeated failures.
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// DefaultConfig returns the stock probe schedule: 30s, 1m, 2m, ... capped at
// one hour.
func DefaultConfig() Config {
	return Config{BackoffBase: 30 * time.Second, BackoffMax: time.Hour}
}

// Controller runs reconnect probes.
type Controller struct {
	store   Store
	clients ClientResolver
	cfg     Config
	clock   func() time.Time

	// OnRecovered, when set, fires after a connector comes back online.
	// It runs inline on the probe path and must not block.
	OnRecovered func(ctx context.Context, conn *model.Connector, status model.HealthStatus)
}

// New builds a Controller. clock may be nil (wall clock).
func New(st Store, clients ClientResolver, cfg Config, clock func() time.Time) *Controller {
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultConfig().BackoffBase
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = DefaultConfig().BackoffMax
	}
	if clock == nil {
		clock = time.Now
	}
	return &Controller{store: st, clients: clients, cfg: cfg, clock: clock}
}

// MarkOffline transitions a connector into the reconnect cycle. Safe to call
// repeatedly: an in-flight cycle keeps its schedule.
func (c *Controller) MarkOffline(ctx context.Context, connectorID int64, status model.HealthStatus) error {
	if err := c.store.UpdateConnectorHealth(ctx, connectorID, status); err != nil {
		return err
	}
	return c.store.BeginReconnect(ctx, connectorID, c.clock().Add(c.cfg.BackoffBase))
}

// ProcessDue probes every connector whose reconnect attempt is due.
// Connectors are probed sequentially; an individual failure only reschedules
// that connector.
func (c *Controller) ProcessDue(ctx context.Context) error {
	due, err := c.store.DueReconnects(ctx, c.clock())
	if err != nil {
		return err
	}
	for i := range due {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.probe(ctx, &due[i])
	}
	return nil
}

func (c *Controller) probe(ctx context.Context, state *model.SyncState) {
	ctx = log.ContextWithConnectorID(ctx, state.ConnectorID)
	logger := log.WithComponentFromContext(ctx, "reconnect")
	connLabel := strconv.FormatInt(state.ConnectorID, 10)

	conn, err := c.store.Connector(ctx, state.ConnectorID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load connector for probe")
		return
	}
	client, err := c.clients(ctx, conn)
	if err != nil {
		c.recordFailure(ctx, state, err)
		metrics.ReconnectAttempts.WithLabelValues(connLabel, "failure").Inc()
		return
	}

	if err := client.Ping(ctx); err != nil {
		c.recordFailure(ctx, state, err)
		metrics.ReconnectAttempts.WithLabelValues(connLabel, "failure").Inc()
		logger.Info().
			Str("event", "reconnect.failed").
			Int(log.FieldAttempts, state.ReconnectAttempts+1).
			Err(err).
			Msg("reconnect probe failed")
		return
	}

	status := c.healthAfterRecovery(ctx, client)
	if err := c.store.UpdateConnectorHealth(ctx, state.ConnectorID, status); err != nil {
		logger.Error().Err(err).Msg("failed to restore connector health")
		return
	}
	if err := c.store.ResetReconnect(ctx, state.ConnectorID); err != nil {
		logger.Error().Err(err).Msg("failed to reset reconnect state")
		return
	}
	metrics.ReconnectAttempts.WithLabelValues(connLabel, "success").Inc()
	logger.Info().
		Str("event", "reconnect.recovered").
		Str(log.FieldState, string(status)).
		Int(log.FieldAttempts, state.ReconnectAttempts).
		Msg("connector back online")
	if c.OnRecovered != nil {
		c.OnRecovered(ctx, conn, status)
	}
}

// healthAfterRecovery grades a reachable connector: warnings or errors in
// the upstream health listing degrade it instead of marking it healthy.
func (c *Controller) healthAfterRecovery(ctx context.Context, client arr.ClientInterface) model.HealthStatus {
	items, err := client.Health(ctx)
	if err != nil {
		// Reachable but the health endpoint misbehaves.
		return model.HealthDegraded
	}
	for _, it := range items {
		if it.Type == "warning" || it.Type == "error" {
			return model.HealthDegraded
		}
	}
	return model.HealthHealthy
}

func (c *Controller) recordFailure(ctx context.Context, state *model.SyncState, cause error) {
	attempts := state.ReconnectAttempts + 1
	delay := timeutil.Backoff(c.cfg.BackoffBase, 2, c.cfg.BackoffMax, attempts)
	// Jitter may shrink the delay below the previous horizon; keep the
	// schedule monotonic.
	next := c.clock().Add(delay)
	if state.NextReconnectAt.Valid && next.Before(state.NextReconnectAt.Time) {
		next = state.NextReconnectAt.Time
	}
	if err := c.store.RecordReconnectFailure(ctx, state.ConnectorID, next, cause.Error()); err != nil {
		logger := log.WithComponentFromContext(ctx, "reconnect")
		logger.Error().Err(err).Msg("failed to record reconnect failure")
	}
}

// Pause suspends probing for one connector.
func (c *Controller) Pause(ctx context.Context, connectorID int64) error {
	return c.store.PauseReconnect(ctx, connectorID)
}

// Resume re-enables probing with an immediate next attempt.
func (c *Controller) Resume(ctx context.Context, connectorID int64) error {
	return c.store.ResumeReconnect(ctx, connectorID, c.clock())
}

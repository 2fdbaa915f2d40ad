// Package commands tracks dispatched search commands until the upstream
// reports a terminal state, force-closing commands that never do.
package commands

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/fetcharr/fetcharr/internal/analytics"
	"github.com/fetcharr/fetcharr/internal/arr"
	"github.com/fetcharr/fetcharr/internal/log"
	"github.com/fetcharr/fetcharr/internal/model"
)

// Store is the persistence surface the monitor consumes. *store.Store
// satisfies it.
type Store interface {
	ConnectorsWithOpenCommands(ctx context.Context) ([]int64, error)
	OpenCommands(ctx context.Context, connectorID int64) ([]model.PendingCommand, error)
	UpdateCommandStatus(ctx context.Context, id int64, status model.CommandStatus) error
	TimeoutStaleCommands(ctx context.Context, dispatchedBefore time.Time) (int, error)
	PruneTerminalCommands(ctx context.Context, dispatchedBefore time.Time) (int, error)
	Connector(ctx context.Context, id int64) (*model.Connector, error)
}

// Recorder receives analytics events. *analytics.Collector satisfies it.
type Recorder interface {
	Record(ctx context.Context, connectorID int64, ev analytics.Event)
}

// ClientResolver yields a ready client for a connector.
type ClientResolver func(ctx context.Context, conn *model.Connector) (arr.ClientInterface, error)

// Config tunes the monitor.
type Config struct {
	// Timeout force-closes commands with no terminal state after this long.
	Timeout time.Duration
	// Retention keeps terminal command rows before cleanup.
	Retention time.Duration
	// NoResultsMarkers are substrings of a completed command's message that
	// mean the search found nothing on the indexers.
	NoResultsMarkers []string
}

// DefaultConfig returns the stock monitor tuning.
func DefaultConfig() Config {
	return Config{
		Timeout:          24 * time.Hour,
		Retention:        7 * 24 * time.Hour,
		NoResultsMarkers: []string{"no results", "0 reports downloaded"},
	}
}

// Monitor polls open commands.
type Monitor struct {
	store   Store
	events  Recorder
	clients ClientResolver
	cfg     Config
	clock   func() time.Time
}

// New builds a Monitor. clock may be nil (wall clock).
func New(st Store, events Recorder, clients ClientResolver, cfg Config, clock func() time.Time) *Monitor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultConfig().Retention
	}
	if clock == nil {
		clock = time.Now
	}
	return &Monitor{store: st, events: events, clients: clients, cfg: cfg, clock: clock}
}

// Poll refreshes every open command from its upstream, then force-closes
// commands past the timeout and prunes terminal rows past retention.
func (m *Monitor) Poll(ctx context.Context) error {
	connectorIDs, err := m.store.ConnectorsWithOpenCommands(ctx)
	if err != nil {
		return err
	}
	for _, id := range connectorIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.pollConnector(ctx, id)
	}

	now := m.clock()
	timedOut, err := m.store.TimeoutStaleCommands(ctx, now.Add(-m.cfg.Timeout))
	if err != nil {
		return err
	}
	if timedOut > 0 {
		logger := log.WithComponentFromContext(ctx, "commands")
		logger.Warn().
			Str("event", "commands.timed_out").
			Int("count", timedOut).
			Msg("force-closed commands with no terminal state")
	}
	if _, err := m.store.PruneTerminalCommands(ctx, now.Add(-m.cfg.Retention)); err != nil {
		return err
	}
	return nil
}

func (m *Monitor) pollConnector(ctx context.Context, connectorID int64) {
	ctx = log.ContextWithConnectorID(ctx, connectorID)
	logger := log.WithComponentFromContext(ctx, "commands")

	conn, err := m.store.Connector(ctx, connectorID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load connector for command poll")
		return
	}
	client, err := m.clients(ctx, conn)
	if err != nil {
		logger.Error().Err(err).Msg("failed to build client for command poll")
		return
	}
	open, err := m.store.OpenCommands(ctx, connectorID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list open commands")
		return
	}
	for i := range open {
		m.refresh(ctx, client, &open[i])
	}
}

func (m *Monitor) refresh(ctx context.Context, client arr.ClientInterface, pc *model.PendingCommand) {
	logger := log.WithComponentFromContext(ctx, "commands")

	res, err := client.CommandStatus(ctx, pc.CommandID)
	if err != nil {
		if errors.Is(err, arr.ErrNotFound) {
			// The upstream dropped the command from its registry; close it.
			m.close(ctx, pc, model.CommandFailed, "")
			return
		}
		logger.Warn().
			Int64(log.FieldCommandID, pc.CommandID).
			Err(err).
			Msg("command status poll failed")
		return
	}

	switch res.Status {
	case "queued":
		// Still waiting; nothing to record.
	case "started":
		if pc.CommandStatus != model.CommandStarted {
			if err := m.store.UpdateCommandStatus(ctx, pc.ID, model.CommandStarted); err != nil {
				logger.Error().Err(err).Msg("failed to update command status")
			}
		}
	case "completed":
		m.close(ctx, pc, model.CommandCompleted, res.Message)
	case "failed", "aborted":
		m.close(ctx, pc, model.CommandFailed, res.Message)
	default:
		logger.Warn().
			Int64(log.FieldCommandID, pc.CommandID).
			Str("status", res.Status).
			Msg("unrecognised command status")
	}
}

func (m *Monitor) close(ctx context.Context, pc *model.PendingCommand, status model.CommandStatus, message string) {
	logger := log.WithComponentFromContext(ctx, "commands")
	if err := m.store.UpdateCommandStatus(ctx, pc.ID, status); err != nil {
		logger.Error().Err(err).Msg("failed to close command")
		return
	}
	elapsed := m.clock().Sub(pc.DispatchedAt).Milliseconds()

	switch {
	case status == model.CommandCompleted && m.noResults(message):
		m.events.Record(ctx, pc.ConnectorID, analytics.SearchNoResults{
			ContentType: string(pc.ContentType),
			ContentID:   pc.ContentID,
		})
		logger.Info().
			Str("event", "command.no_results").
			Int64(log.FieldCommandID, pc.CommandID).
			Msg("search completed without results")
	case status == model.CommandCompleted:
		m.events.Record(ctx, pc.ConnectorID, analytics.SearchCompleted{
			ContentType: string(pc.ContentType),
			ContentID:   pc.ContentID,
			CommandID:   pc.CommandID,
			ElapsedMs:   elapsed,
		})
		logger.Info().
			Str("event", "command.completed").
			Int64(log.FieldCommandID, pc.CommandID).
			Int64("elapsed_ms", elapsed).
			Msg("search command completed")
	default:
		m.events.Record(ctx, pc.ConnectorID, analytics.SearchFailed{
			ContentType: string(pc.ContentType),
			ContentID:   pc.ContentID,
			Category:    "command_failed",
		})
		logger.Info().
			Str("event", "command.failed").
			Int64(log.FieldCommandID, pc.CommandID).
			Msg("search command failed upstream")
	}
}

func (m *Monitor) noResults(message string) bool {
	if message == "" {
		return false
	}
	lower := strings.ToLower(message)
	for _, marker := range m.cfg.NoResultsMarkers {
		if marker != "" && strings.Contains(lower, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

// Package maintenance bundles the housekeeping jobs: database compaction,
// retention prunes, orphan cleanup, backlog recovery and backups.
package maintenance

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/fetcharr/fetcharr/internal/log"
	"github.com/fetcharr/fetcharr/internal/persistence/postgres"
)

// Store is the persistence surface the runner consumes. *store.Store
// satisfies it.
type Store interface {
	DeleteOrphanedRegistries(ctx context.Context) (int, error)
	PruneSearchHistory(ctx context.Context, createdBefore time.Time) (int, error)
	PruneAppLogs(ctx context.Context, createdBefore time.Time) (int, error)
	PruneTerminalCommands(ctx context.Context, dispatchedBefore time.Time) (int, error)
}

// BacklogRecoverer migrates exhausted registries back into circulation.
// *queue.Engine satisfies it.
type BacklogRecoverer interface {
	RecoverBacklog(ctx context.Context) (int, error)
}

// Config tunes retention horizons.
type Config struct {
	SearchHistoryRetention time.Duration
	AppLogRetention        time.Duration
	CommandRetention       time.Duration
	// VacuumFull switches the compaction to VACUUM FULL. Off by default: it
	// takes an access-exclusive lock.
	VacuumFull bool
}

// DefaultConfig returns the stock retention horizons.
func DefaultConfig() Config {
	return Config{
		SearchHistoryRetention: 90 * 24 * time.Hour,
		AppLogRetention:        14 * 24 * time.Hour,
		CommandRetention:       7 * 24 * time.Hour,
	}
}

// Runner executes the maintenance pass.
type Runner struct {
	db      *sqlx.DB
	store   Store
	backlog BacklogRecoverer
	cfg     Config
	clock   func() time.Time
}

// New builds a Runner. clock may be nil (wall clock).
func New(db *sqlx.DB, st Store, backlog BacklogRecoverer, cfg Config, clock func() time.Time) *Runner {
	if cfg.SearchHistoryRetention <= 0 {
		cfg.SearchHistoryRetention = DefaultConfig().SearchHistoryRetention
	}
	if cfg.AppLogRetention <= 0 {
		cfg.AppLogRetention = DefaultConfig().AppLogRetention
	}
	if cfg.CommandRetention <= 0 {
		cfg.CommandRetention = DefaultConfig().CommandRetention
	}
	if clock == nil {
		clock = time.Now
	}
	return &Runner{db: db, store: st, backlog: backlog, cfg: cfg, clock: clock}
}

// Run executes one full maintenance pass: prunes, orphan cleanup, backlog
// recovery, then compaction. Individual step failures abort the pass; the
// scheduler retries on the next firing.
func (r *Runner) Run(ctx context.Context) error {
	logger := log.WithComponentFromContext(ctx, "maintenance")
	now := r.clock()

	searchPruned, err := r.store.PruneSearchHistory(ctx, now.Add(-r.cfg.SearchHistoryRetention))
	if err != nil {
		return err
	}
	logsPruned, err := r.store.PruneAppLogs(ctx, now.Add(-r.cfg.AppLogRetention))
	if err != nil {
		return err
	}
	commandsPruned, err := r.store.PruneTerminalCommands(ctx, now.Add(-r.cfg.CommandRetention))
	if err != nil {
		return err
	}
	orphans, err := r.store.DeleteOrphanedRegistries(ctx)
	if err != nil {
		return err
	}
	recovered, err := r.backlog.RecoverBacklog(ctx)
	if err != nil {
		return err
	}

	compaction, err := postgres.Compact(ctx, r.db, r.cfg.VacuumFull)
	if err != nil {
		return err
	}
	logger.Info().
		Str("event", "maintenance.completed").
		Int("search_history_pruned", searchPruned).
		Int("app_logs_pruned", logsPruned).
		Int("commands_pruned", commandsPruned).
		Int("orphan_registries_deleted", orphans).
		Int("backlog_recovered", recovered).
		Dur("vacuum_duration", compaction.VacuumDuration).
		Dur("analyze_duration", compaction.AnalyzeDuration).
		Msg("maintenance pass complete")
	return nil
}

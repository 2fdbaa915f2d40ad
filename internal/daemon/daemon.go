// Package daemon wires the engine together: store, throttle, queue, sync,
// reconnect, notifications, analytics and the scheduled jobs that drive them.
package daemon

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/fetcharr/fetcharr/internal/analytics"
	"github.com/fetcharr/fetcharr/internal/catalog"
	"github.com/fetcharr/fetcharr/internal/commands"
	"github.com/fetcharr/fetcharr/internal/config"
	"github.com/fetcharr/fetcharr/internal/health"
	"github.com/fetcharr/fetcharr/internal/log"
	"github.com/fetcharr/fetcharr/internal/maintenance"
	"github.com/fetcharr/fetcharr/internal/metrics"
	"github.com/fetcharr/fetcharr/internal/model"
	"github.com/fetcharr/fetcharr/internal/notify"
	"github.com/fetcharr/fetcharr/internal/prowlarr"
	"github.com/fetcharr/fetcharr/internal/queue"
	"github.com/fetcharr/fetcharr/internal/reconnect"
	"github.com/fetcharr/fetcharr/internal/scheduler"
	"github.com/fetcharr/fetcharr/internal/secrets"
	"github.com/fetcharr/fetcharr/internal/store"
	"github.com/fetcharr/fetcharr/internal/throttle"
	"github.com/fetcharr/fetcharr/internal/timeutil"
)

// Daemon owns every long-lived component and their scheduled jobs.
type Daemon struct {
	cfg   *config.Config
	db    *sqlx.DB
	store *store.Store

	clients    *clientCache
	enforcer   *throttle.Enforcer
	collector  *analytics.Collector
	aggregator *analytics.Aggregator
	engine     *queue.Engine
	syncer     *catalog.Syncer
	reconnect  *reconnect.Controller
	monitor    *commands.Monitor
	dispatcher *notify.Dispatcher
	batcher    *notify.Batcher
	maint      *maintenance.Runner
	backup     *maintenance.Backup
	prowlarr   *prowlarr.Client
	healthMgr  *health.Manager
	sched      *scheduler.Scheduler
	dynamic    *scheduler.DynamicSchedules
	ops        *opsServer

	// prowlarrHealthy gates dispatching: when the indexer manager is down
	// every search would fail, so the queue pass is skipped instead of
	// burning attempts.
	prowlarrHealthy atomic.Bool

	budgetMu       sync.Mutex
	budgetNotified map[int64]time.Time

	logPersister *logPersister
}

// New wires the daemon over an opened, migrated database. The secret box
// must be initialised before calling.
func New(ctx context.Context, cfg *config.Config, db *sqlx.DB) (*Daemon, error) {
	box, err := secrets.Default()
	if err != nil {
		return nil, fmt.Errorf("daemon: secrets not initialised: %w", err)
	}

	d := &Daemon{
		cfg:            cfg,
		db:             db,
		store:          store.New(db),
		budgetNotified: make(map[int64]time.Time),
	}
	d.prowlarrHealthy.Store(true)

	d.clients = newClientCache(box, nil)
	d.enforcer = throttle.New(d.store, nil)
	d.collector = analytics.NewCollector(d.store, nil)
	d.aggregator = analytics.NewAggregator(d.store, 0, nil)
	d.engine = queue.New(d.store, d.enforcer, d.collector, d.clients.Resolve, queue.Config{
		MaxAttempts:      cfg.Queue.MaxAttempts,
		CooldownBase:     cfg.Queue.CooldownBase,
		CooldownMax:      cfg.Queue.CooldownMax,
		OrphanStaleAfter: cfg.Queue.OrphanStaleAfter,
		TierDelays:       cfg.TierDelayMap(),
	}, nil)
	d.syncer = catalog.New(d.store, d.collector, d.clients.Resolve, nil)
	d.reconnect = reconnect.New(d.store, d.clients.Resolve, reconnect.Config{
		BackoffBase: cfg.Reconnect.BackoffBase,
		BackoffMax:  cfg.Reconnect.BackoffMax,
	}, nil)
	d.monitor = commands.New(d.store, d.collector, d.clients.Resolve, commands.Config{
		Timeout:          cfg.Commands.Timeout,
		Retention:        cfg.Commands.Retention,
		NoResultsMarkers: cfg.Queue.NoResultsMarkers,
	}, nil)

	d.dispatcher = notify.NewDispatcher(d.store, notify.NewFactory(nil), box.Decrypt, nil)
	d.batcher = notify.NewBatcher(d.store, d.dispatcher, nil)

	d.maint = maintenance.New(db, d.store, &backlogNotifier{engine: d.engine, dispatcher: d.dispatcher}, maintenance.Config{
		SearchHistoryRetention: cfg.Maintenance.SearchHistoryRetention,
		AppLogRetention:        cfg.Maintenance.AppLogRetention,
		CommandRetention:       cfg.Commands.Retention,
		VacuumFull:             cfg.Maintenance.VacuumFull,
	}, nil)
	d.backup = maintenance.NewBackup(cfg.Database.DSN, maintenance.BackupConfig{
		Enabled:   cfg.Backup.Enabled,
		Directory: cfg.Backup.Directory,
		Retention: cfg.Backup.Retention,
	}, nil)

	if cfg.Prowlarr.URL != "" {
		d.prowlarr = prowlarr.New(cfg.Prowlarr.URL, cfg.Prowlarr.APIKey)
	}

	d.healthMgr = health.NewManager(0)
	d.healthMgr.Register(&health.DatabaseChecker{DB: db})
	d.healthMgr.Register(&health.ConnectorChecker{Store: d.store})

	d.sched = scheduler.New(ctx)
	d.dynamic = scheduler.NewDynamicSchedules(d.store, d.sched, d.runUserSweep)
	d.ops = newOpsServer(cfg.Ops, d.healthMgr, db)

	// Offline and recovered transitions fan out through the notification
	// channels; budget exhaustion is deduped to one notice per day.
	d.reconnect.OnRecovered = d.notifyRecovered
	d.enforcer.OnDenied = d.notifyBudgetExhausted

	if err := d.registerJobs(); err != nil {
		return nil, err
	}
	return d, nil
}

// Start begins firing schedules and serving the ops listener. The returned
// channel carries a fatal listener error, if any.
func (d *Daemon) Start() <-chan error {
	errCh := make(chan error, 1)
	d.ops.Start(errCh)
	d.sched.Start()
	logger := log.WithComponent("daemon")
	logger.Info().
		Str("event", "daemon.started").
		Str("listen", d.cfg.Ops.Listen).
		Msg("daemon started")
	return errCh
}

// Stop drains in LIFO order: no new firings, wait out running jobs, then
// close the listener.
func (d *Daemon) Stop(ctx context.Context) {
	logger := log.WithComponent("daemon")
	d.sched.Stop(d.cfg.Scheduler.ShutdownGrace)
	if err := d.ops.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("ops listener shutdown")
	}
	if d.logPersister != nil {
		d.logPersister.stop()
	}
	logger.Info().Str("event", "daemon.stopped").Msg("daemon stopped")
}

// ApplyConfig applies the hot-reloadable subset of a re-read configuration.
// Everything else (pools, listeners, schedules) needs a restart.
func (d *Daemon) ApplyConfig(cfg *config.Config) {
	if err := log.SetLevel(cfg.Log.Level); err != nil {
		logger := log.WithComponent("daemon")
		logger.Warn().Err(err).Msg("reloaded log level rejected")
	}
}

func (d *Daemon) registerJobs() error {
	jobs := []struct {
		name string
		spec string
		job  scheduler.Job
	}{
		{"throttle-window-reset", "* * * * *", func(ctx context.Context) error {
			_, err := d.enforcer.ResetExpiredWindows(ctx)
			return err
		}},
		{"queue-processor", "* * * * *", d.runQueuePass},
		{"command-monitor", "* * * * *", d.monitor.Poll},
		{"notification-batch-processor", "* * * * *", d.batcher.Process},
		{"schedules-reload", "* * * * *", d.dynamic.Reload},
		{"connector-reconnect", "*/30 * * * * *", d.reconnect.ProcessDue},
		{"connector-health-check", "*/5 * * * *", d.checkConnectors},
		{"queue-depth-sampler", "*/5 * * * *", func(ctx context.Context) error {
			return d.aggregator.SampleQueueDepths(ctx, d.collector)
		}},
		{"incremental-sync-sweep", "*/15 * * * *", d.sweepAll(catalog.ModeIncremental)},
		{"analytics-hourly-aggregation", "5 * * * *", d.aggregator.RollupHourly},
		{"analytics-daily-aggregation", "0 1 * * *", d.aggregator.RollupDaily},
		{"full-reconciliation", "0 3 * * *", d.sweepAll(catalog.ModeFullRecon)},
		{"completion-snapshot", "0 4 * * *", d.snapshotCompletion},
		{"db-maintenance", "30 4 * * *", d.maint.Run},
	}
	if d.prowlarr != nil {
		jobs = append(jobs, struct {
			name string
			spec string
			job  scheduler.Job
		}{"prowlarr-health-check", "*/5 * * * *", d.checkProwlarr})
	}
	if d.cfg.Backup.Enabled {
		jobs = append(jobs, struct {
			name string
			spec string
			job  scheduler.Job
		}{"scheduled-backup", d.cfg.Backup.Cron, d.backup.Run})
	}
	for _, j := range jobs {
		if err := d.sched.Register(j.name, j.spec, "", j.job); err != nil {
			return fmt.Errorf("daemon: register job %s: %w", j.name, err)
		}
	}
	return nil
}

// runQueuePass skips dispatching while the indexer manager is down: every
// search would fail at the indexer layer and burn registry attempts.
func (d *Daemon) runQueuePass(ctx context.Context) error {
	if !d.prowlarrHealthy.Load() {
		logger := log.WithComponentFromContext(ctx, "daemon")
		logger.Warn().
			Str("event", "queue.gated").
			Msg("skipping dispatch pass, indexer manager unhealthy")
		return nil
	}
	return d.engine.ProcessAll(ctx)
}

// sweepAll runs one sync mode across every healthy connector. Per-connector
// failures are logged by the syncer; the job only fails on the listing.
func (d *Daemon) sweepAll(mode catalog.Mode) scheduler.Job {
	return func(ctx context.Context) error {
		conns, err := d.store.HealthyConnectors(ctx)
		if err != nil {
			return err
		}
		for i := range conns {
			if err := ctx.Err(); err != nil {
				return err
			}
			d.sweepOne(ctx, &conns[i], mode)
		}
		return nil
	}
}

func (d *Daemon) sweepOne(ctx context.Context, conn *model.Connector, mode catalog.Mode) {
	var err error
	if mode == catalog.ModeFullRecon {
		_, err = d.syncer.FullReconcile(ctx, conn)
	} else {
		_, err = d.syncer.Incremental(ctx, conn)
	}
	if err != nil {
		d.dispatcher.Dispatch(ctx, notify.EventSyncFailed,
			fmt.Sprintf("Sync failed for %s: %v", conn.Name, err),
			[]notify.Field{
				{Name: "Connector", Value: conn.Name},
				{Name: "Mode", Value: string(mode)},
			})
	}
}

// checkConnectors probes every enabled, non-offline connector. Offline ones
// belong to the reconnect controller until it restores them.
func (d *Daemon) checkConnectors(ctx context.Context) error {
	conns, err := d.store.EnabledConnectors(ctx)
	if err != nil {
		return err
	}
	for i := range conns {
		if err := ctx.Err(); err != nil {
			return err
		}
		if conns[i].HealthStatus == model.HealthOffline {
			continue
		}
		d.checkConnector(ctx, &conns[i])
	}
	return nil
}

func (d *Daemon) checkConnector(ctx context.Context, conn *model.Connector) {
	ctx = log.ContextWithConnectorID(ctx, conn.ID)
	logger := log.WithComponentFromContext(ctx, "healthcheck")

	client, err := d.clients.Resolve(ctx, conn)
	if err != nil {
		logger.Error().Err(err).Msg("client resolve failed")
		return
	}
	if err := client.Ping(ctx); err != nil {
		logger.Warn().Str("event", "connector.offline").Err(err).Msg("connector unreachable")
		if merr := d.reconnect.MarkOffline(ctx, conn.ID, model.HealthOffline); merr != nil {
			logger.Error().Err(merr).Msg("failed to mark connector offline")
			return
		}
		d.dispatcher.Dispatch(ctx, notify.EventConnectorOffline,
			fmt.Sprintf("Connector %s is unreachable: %v", conn.Name, err),
			[]notify.Field{{Name: "Connector", Value: conn.Name}})
		return
	}

	status := model.HealthHealthy
	if items, herr := client.Health(ctx); herr != nil {
		status = model.HealthDegraded
	} else {
		for _, it := range items {
			if it.Type == "warning" || it.Type == "error" {
				status = model.HealthDegraded
				break
			}
		}
	}
	if status != conn.HealthStatus {
		if uerr := d.store.UpdateConnectorHealth(ctx, conn.ID, status); uerr != nil {
			logger.Error().Err(uerr).Msg("failed to update connector health")
		}
	}
}

func (d *Daemon) checkProwlarr(ctx context.Context) error {
	status := d.prowlarr.Check(ctx)
	healthy := status.Reachable && len(status.Errors) == 0
	was := d.prowlarrHealthy.Swap(healthy)
	logger := log.WithComponentFromContext(ctx, "prowlarr")
	if healthy == was {
		return nil
	}
	if healthy {
		logger.Info().Str("event", "prowlarr.recovered").Msg("indexer manager healthy, dispatching resumes")
	} else {
		logger.Warn().
			Str("event", "prowlarr.unhealthy").
			Bool("reachable", status.Reachable).
			Strs("errors", status.Errors).
			Msg("indexer manager unhealthy, dispatching gated")
	}
	return nil
}

// snapshotCompletion refreshes the per-connector completion gauges once a
// day, after the nightly reconciliation settles.
func (d *Daemon) snapshotCompletion(ctx context.Context) error {
	stats, err := d.store.CompletionStats(ctx)
	if err != nil {
		return err
	}
	metrics.CatalogCompletion.Reset()
	logger := log.WithComponentFromContext(ctx, "daemon")
	for _, s := range stats {
		metrics.CatalogCompletion.WithLabelValues(strconv.FormatInt(s.ConnectorID, 10)).Set(s.Ratio())
		logger.Info().
			Str("event", "completion.snapshot").
			Int64(log.FieldConnectorID, s.ConnectorID).
			Int("total", s.Total).
			Int("with_file", s.WithFile).
			Float64("ratio", s.Ratio()).
			Msg("completion snapshot")
	}
	return nil
}

// runUserSweep executes one user-defined schedule row.
func (d *Daemon) runUserSweep(ctx context.Context, sched *model.Schedule) error {
	mode := catalog.ModeIncremental
	if sched.SweepType == model.SweepFullRecon {
		mode = catalog.ModeFullRecon
	}
	if sched.ConnectorID.Valid {
		conn, err := d.store.Connector(ctx, sched.ConnectorID.Int64)
		if err != nil {
			return err
		}
		if conn.HealthStatus == model.HealthOffline || !conn.Enabled {
			return nil
		}
		d.sweepOne(ctx, conn, mode)
		return nil
	}
	return d.sweepAll(mode)(ctx)
}

func (d *Daemon) notifyRecovered(ctx context.Context, conn *model.Connector, status model.HealthStatus) {
	d.dispatcher.Dispatch(ctx, notify.EventConnectorRecovered,
		fmt.Sprintf("Connector %s is back online (%s)", conn.Name, status),
		[]notify.Field{
			{Name: "Connector", Value: conn.Name},
			{Name: "Status", Value: string(status)},
		})
}

// notifyBudgetExhausted sends at most one daily-budget notice per connector
// per budget day; the enforcer calls it on every denial.
func (d *Daemon) notifyBudgetExhausted(ctx context.Context, conn *model.Connector, dec throttle.Decision) {
	if dec.Reason != model.PauseDailyBudget {
		return
	}
	day := timeutil.StartOfDay(time.Now())
	d.budgetMu.Lock()
	if last, ok := d.budgetNotified[conn.ID]; ok && !last.Before(day) {
		d.budgetMu.Unlock()
		return
	}
	d.budgetNotified[conn.ID] = day
	d.budgetMu.Unlock()

	d.dispatcher.Dispatch(ctx, notify.EventDailyBudgetExhausted,
		fmt.Sprintf("Daily search budget exhausted for %s", conn.Name),
		[]notify.Field{
			{Name: "Connector", Value: conn.Name},
			{Name: "Paused until", Value: dec.PausedUntil.UTC().Format(time.RFC3339)},
		})
}

// backlogNotifier lets the maintenance pass announce recovered backlog rows
// without knowing about the notification layer.
type backlogNotifier struct {
	engine     *queue.Engine
	dispatcher *notify.Dispatcher
}

func (b *backlogNotifier) RecoverBacklog(ctx context.Context) (int, error) {
	n, err := b.engine.RecoverBacklog(ctx)
	if err == nil && n > 0 {
		b.dispatcher.Dispatch(ctx, notify.EventBacklogRecovered,
			fmt.Sprintf("%d exhausted items returned to the search queue", n),
			[]notify.Field{{Name: "Items", Value: strconv.Itoa(n)}})
	}
	return n, err
}

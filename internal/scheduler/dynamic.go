package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/fetcharr/fetcharr/internal/log"
	"github.com/fetcharr/fetcharr/internal/model"
)

// ScheduleStore is the persistence surface for user-defined sweep
// schedules. *store.Store satisfies it.
type ScheduleStore interface {
	EnabledSchedules(ctx context.Context) ([]model.Schedule, error)
	SchedulesVersion(ctx context.Context) (time.Time, error)
	SetScheduleNextRun(ctx context.Context, id int64, next time.Time) error
}

// SweepRunner executes one user-scheduled sweep. The catalog syncer is
// adapted to this in the daemon wiring.
type SweepRunner func(ctx context.Context, sched *model.Schedule) error

// DynamicSchedules mirrors the schedules table into cron entries. Reload is
// cheap when nothing changed: the table's max(updated_at) acts as a version.
type DynamicSchedules struct {
	store ScheduleStore
	sched *Scheduler
	run   SweepRunner

	version time.Time
	names   []string
}

// NewDynamicSchedules builds the reloader.
func NewDynamicSchedules(st ScheduleStore, sched *Scheduler, run SweepRunner) *DynamicSchedules {
	return &DynamicSchedules{store: st, sched: sched, run: run}
}

// Reload synchronises cron entries with the schedules table when the table
// changed since the last call.
func (d *DynamicSchedules) Reload(ctx context.Context) error {
	logger := log.WithComponentFromContext(ctx, "scheduler")

	version, err := d.store.SchedulesVersion(ctx)
	if err != nil {
		return err
	}
	if !d.version.IsZero() && !version.After(d.version) {
		return nil
	}

	schedules, err := d.store.EnabledSchedules(ctx)
	if err != nil {
		return err
	}

	// Replace wholesale: dropped or disabled schedules must stop firing.
	for _, name := range d.names {
		d.sched.Remove(name)
	}
	d.names = d.names[:0]

	for i := range schedules {
		sc := schedules[i]
		name := fmt.Sprintf("user-sweep-%d", sc.ID)
		err := d.sched.Register(name, sc.CronExpression, sc.Timezone, func(ctx context.Context) error {
			return d.run(ctx, &sc)
		})
		if err != nil {
			logger.Error().
				Err(err).
				Int64("schedule_id", sc.ID).
				Str("cron", sc.CronExpression).
				Msg("invalid user schedule skipped")
			continue
		}
		d.names = append(d.names, name)
		if next := d.sched.NextRun(name); !next.IsZero() {
			if err := d.store.SetScheduleNextRun(ctx, sc.ID, next); err != nil {
				logger.Error().Err(err).Int64("schedule_id", sc.ID).Msg("failed to record next run")
			}
		}
	}
	d.version = version
	logger.Info().
		Str("event", "schedules.reloaded").
		Int("count", len(d.names)).
		Msg("user schedules reloaded")
	return nil
}

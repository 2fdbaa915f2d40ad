// Package scheduler runs the engine's recurring jobs on cron cadences. Each
// job gets a fresh correlation id, a panic barrier and an overlap guard: a
// firing that lands while the previous run is still in flight is skipped,
// never queued.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/fetcharr/fetcharr/internal/log"
	"github.com/fetcharr/fetcharr/internal/metrics"
)

// Job is one schedulable unit of work.
type Job func(ctx context.Context) error

// Scheduler wraps a cron runner with per-job guards.
type Scheduler struct {
	cron    *cron.Cron
	baseCtx context.Context

	mu      sync.Mutex
	entries map[string]cron.EntryID
	running map[string]*sync.Mutex
	wg      sync.WaitGroup
}

// New builds a Scheduler whose jobs inherit baseCtx.
func New(baseCtx context.Context) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		baseCtx: baseCtx,
		entries: make(map[string]cron.EntryID),
		running: make(map[string]*sync.Mutex),
	}
}

// Register adds a job under a six-field cron spec, optionally scoped to a
// timezone (empty = UTC). Re-registering a name replaces the old entry.
func (s *Scheduler) Register(name, spec, timezone string, job Job) error {
	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return fmt.Errorf("scheduler: timezone %q: %w", timezone, err)
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		// Second-resolution specs use the six-field parser.
		parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		if sched, err = parser.Parse(spec); err != nil {
			return fmt.Errorf("scheduler: cron spec %q: %w", spec, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[name]; ok {
		s.cron.Remove(id)
	}
	if _, ok := s.running[name]; !ok {
		s.running[name] = &sync.Mutex{}
	}
	id := s.cron.Schedule(tzSchedule{sched: sched, loc: loc}, cron.FuncJob(func() {
		s.execute(name, job)
	}))
	s.entries[name] = id
	return nil
}

// tzSchedule evaluates the wrapped schedule in a fixed timezone.
type tzSchedule struct {
	sched cron.Schedule
	loc   *time.Location
}

func (t tzSchedule) Next(at time.Time) time.Time {
	return t.sched.Next(at.In(t.loc))
}

// Remove drops a registered job.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[name]; ok {
		s.cron.Remove(id)
		delete(s.entries, name)
	}
}

// NextRun reports the next firing time for a job, zero when unknown.
func (s *Scheduler) NextRun(name string) time.Time {
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(id).Next
}

// execute runs one firing with the overlap guard and panic barrier.
func (s *Scheduler) execute(name string, job Job) {
	s.mu.Lock()
	guard := s.running[name]
	s.mu.Unlock()

	if !guard.TryLock() {
		metrics.JobSkipped.WithLabelValues(name).Inc()
		logger := log.WithComponent("scheduler")
		logger.Debug().
			Str(log.FieldJob, name).
			Str("event", "job.skipped").
			Msg("previous run still in flight, firing skipped")
		return
	}
	defer guard.Unlock()

	s.wg.Add(1)
	defer s.wg.Done()

	ctx := log.ContextWithJobName(s.baseCtx, name)
	ctx = log.ContextWithCorrelationID(ctx, uuid.NewString())
	logger := log.WithComponentFromContext(ctx, "scheduler")

	start := time.Now()
	outcome := "success"
	defer func() {
		if r := recover(); r != nil {
			outcome = "panic"
			logger.Error().
				Str("event", "job.panicked").
				Interface("panic", r).
				Dur("duration", time.Since(start)).
				Msg("job panicked")
		}
		metrics.JobDuration.WithLabelValues(name, outcome).Observe(time.Since(start).Seconds())
	}()

	logger.Debug().Str("event", "job.started").Msg("job started")
	if err := job(ctx); err != nil {
		outcome = "failure"
		logger.Error().
			Str("event", "job.failed").
			Dur("duration", time.Since(start)).
			Err(err).
			Msg("job failed")
		return
	}
	logger.Info().
		Str("event", "job.completed").
		Dur("duration", time.Since(start)).
		Msg("job completed")
}

// RunNow fires a job immediately, subject to the same guards.
func (s *Scheduler) RunNow(name string, job Job) {
	s.execute(name, job)
}

// Start begins firing schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts new firings and waits for in-flight jobs up to grace.
func (s *Scheduler) Stop(grace time.Duration) {
	ctx := s.cron.Stop()
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		logger := log.WithComponent("scheduler")
		logger.Warn().
			Str("event", "scheduler.stop_timeout").
			Dur("grace", grace).
			Msg("jobs still running at shutdown grace expiry")
	}
}

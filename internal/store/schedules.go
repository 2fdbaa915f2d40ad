package store

import (
	"context"
	"fmt"
	"time"

	"github.com/fetcharr/fetcharr/internal/model"
)

// EnabledSchedules lists user-defined sweep schedules that are switched on.
func (s *Store) EnabledSchedules(ctx context.Context) ([]model.Schedule, error) {
	var out []model.Schedule
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM schedules WHERE enabled ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: enabled schedules: %w", err)
	}
	return out, nil
}

// SchedulesVersion returns a cheap change marker for the schedules table so
// the scheduler can detect edits without diffing rows.
func (s *Store) SchedulesVersion(ctx context.Context) (time.Time, error) {
	var v time.Time
	err := s.db.GetContext(ctx, &v,
		`SELECT COALESCE(MAX(updated_at), 'epoch'::TIMESTAMPTZ) FROM schedules`)
	if err != nil {
		return time.Time{}, fmt.Errorf("store: schedules version: %w", err)
	}
	return v, nil
}

// SetScheduleNextRun records the next computed firing time.
func (s *Store) SetScheduleNextRun(ctx context.Context, id int64, next time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET next_run_at = $2 WHERE id = $1`, id, next.UTC())
	if err != nil {
		return fmt.Errorf("store: set schedule next run: %w", err)
	}
	return nil
}

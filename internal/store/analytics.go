package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// InsertAnalyticsEvent stores one raw event with its JSON envelope.
func (s *Store) InsertAnalyticsEvent(ctx context.Context, connectorID sql.NullInt64, eventType string, eventData []byte, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO analytics_events (connector_id, event_type, event_data, created_at)
		VALUES ($1, $2, $3, $4)`, connectorID, eventType, eventData, at.UTC())
	if err != nil {
		return fmt.Errorf("store: insert analytics event: %w", err)
	}
	return nil
}

// HourlyRollup holds the aggregate computed from raw events for one bucket.
type HourlyRollup struct {
	ConnectorID         int64     `db:"connector_id"`
	HourBucket          time.Time `db:"hour_bucket"`
	GapsDiscovered      int       `db:"gaps_discovered"`
	UpgradesDiscovered  int       `db:"upgrades_discovered"`
	SearchesDispatched  int       `db:"searches_dispatched"`
	SearchesCompleted   int       `db:"searches_completed"`
	SearchesFailed      int       `db:"searches_failed"`
	SearchesNoResults   int       `db:"searches_no_results"`
	SyncsCompleted      int       `db:"syncs_completed"`
	SyncsFailed         int       `db:"syncs_failed"`
	AvgSearchDurationMs float64   `db:"avg_search_duration_ms"`
	AvgQueueDepth       float64   `db:"avg_queue_depth"`
	PeakQueueDepth      int       `db:"peak_queue_depth"`
}

// ComputeHourlyRollup aggregates raw events for one connector within
// [hourStart, hourStart+1h).
func (s *Store) ComputeHourlyRollup(ctx context.Context, connectorID int64, hourStart time.Time) (*HourlyRollup, error) {
	hourStart = hourStart.UTC().Truncate(time.Hour)
	hourEnd := hourStart.Add(time.Hour)
	r := HourlyRollup{ConnectorID: connectorID, HourBucket: hourStart}
	err := s.db.QueryRowxContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE event_type = 'gap_discovered') AS gaps,
			COUNT(*) FILTER (WHERE event_type = 'upgrade_discovered') AS upgrades,
			COUNT(*) FILTER (WHERE event_type = 'search_dispatched') AS dispatched,
			COUNT(*) FILTER (WHERE event_type = 'search_completed') AS completed,
			COUNT(*) FILTER (WHERE event_type = 'search_failed') AS failed,
			COUNT(*) FILTER (WHERE event_type = 'search_no_results') AS no_results,
			COUNT(*) FILTER (WHERE event_type = 'sync_completed') AS syncs_ok,
			COUNT(*) FILTER (WHERE event_type = 'sync_failed') AS syncs_bad,
			COALESCE(AVG((event_data->>'durationMs')::DOUBLE PRECISION)
				FILTER (WHERE event_type = 'search_dispatched' AND event_data ? 'durationMs'), 0) AS avg_duration,
			COALESCE(AVG((event_data->>'queueDepth')::DOUBLE PRECISION)
				FILTER (WHERE event_type = 'queue_depth_sampled'), 0) AS avg_depth,
			COALESCE(MAX((event_data->>'queueDepth')::INTEGER)
				FILTER (WHERE event_type = 'queue_depth_sampled'), 0) AS peak_depth
		FROM analytics_events
		WHERE connector_id = $1 AND created_at >= $2 AND created_at < $3`,
		connectorID, hourStart, hourEnd,
	).Scan(&r.GapsDiscovered, &r.UpgradesDiscovered, &r.SearchesDispatched,
		&r.SearchesCompleted, &r.SearchesFailed, &r.SearchesNoResults,
		&r.SyncsCompleted, &r.SyncsFailed,
		&r.AvgSearchDurationMs, &r.AvgQueueDepth, &r.PeakQueueDepth)
	if err != nil {
		return nil, fmt.Errorf("store: compute hourly rollup: %w", err)
	}
	return &r, nil
}

// UpsertHourlyStats writes one aggregate row; rerunning the same bucket
// replaces it so aggregation stays idempotent.
func (s *Store) UpsertHourlyStats(ctx context.Context, r *HourlyRollup) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO analytics_hourly_stats
			(connector_id, hour_bucket, gaps_discovered, upgrades_discovered,
			 searches_dispatched, searches_completed, searches_failed, searches_no_results,
			 syncs_completed, syncs_failed, avg_search_duration_ms, avg_queue_depth, peak_queue_depth)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (connector_id, hour_bucket) DO UPDATE SET
			gaps_discovered = EXCLUDED.gaps_discovered,
			upgrades_discovered = EXCLUDED.upgrades_discovered,
			searches_dispatched = EXCLUDED.searches_dispatched,
			searches_completed = EXCLUDED.searches_completed,
			searches_failed = EXCLUDED.searches_failed,
			searches_no_results = EXCLUDED.searches_no_results,
			syncs_completed = EXCLUDED.syncs_completed,
			syncs_failed = EXCLUDED.syncs_failed,
			avg_search_duration_ms = EXCLUDED.avg_search_duration_ms,
			avg_queue_depth = EXCLUDED.avg_queue_depth,
			peak_queue_depth = EXCLUDED.peak_queue_depth`,
		r.ConnectorID, r.HourBucket,
		r.GapsDiscovered, r.UpgradesDiscovered,
		r.SearchesDispatched, r.SearchesCompleted, r.SearchesFailed, r.SearchesNoResults,
		r.SyncsCompleted, r.SyncsFailed,
		r.AvgSearchDurationMs, r.AvgQueueDepth, r.PeakQueueDepth)
	if err != nil {
		return fmt.Errorf("store: upsert hourly stats: %w", err)
	}
	return nil
}

// RollupDailyStats folds the previous day's hourly rows into one daily row
// per connector: sums for counters, averages for averages, max for peaks.
func (s *Store) RollupDailyStats(ctx context.Context, connectorID int64, day time.Time) error {
	dayStart := time.Date(day.UTC().Year(), day.UTC().Month(), day.UTC().Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO analytics_daily_stats
			(connector_id, day_bucket, gaps_discovered, upgrades_discovered,
			 searches_dispatched, searches_completed, searches_failed, searches_no_results,
			 syncs_completed, syncs_failed, avg_search_duration_ms, avg_queue_depth, peak_queue_depth)
		SELECT $1, $2::DATE,
		       COALESCE(SUM(gaps_discovered), 0), COALESCE(SUM(upgrades_discovered), 0),
		       COALESCE(SUM(searches_dispatched), 0), COALESCE(SUM(searches_completed), 0),
		       COALESCE(SUM(searches_failed), 0), COALESCE(SUM(searches_no_results), 0),
		       COALESCE(SUM(syncs_completed), 0), COALESCE(SUM(syncs_failed), 0),
		       COALESCE(AVG(avg_search_duration_ms), 0), COALESCE(AVG(avg_queue_depth), 0),
		       COALESCE(MAX(peak_queue_depth), 0)
		FROM analytics_hourly_stats
		WHERE connector_id = $1 AND hour_bucket >= $2 AND hour_bucket < $3
		ON CONFLICT (connector_id, day_bucket) DO UPDATE SET
			gaps_discovered = EXCLUDED.gaps_discovered,
			upgrades_discovered = EXCLUDED.upgrades_discovered,
			searches_dispatched = EXCLUDED.searches_dispatched,
			searches_completed = EXCLUDED.searches_completed,
			searches_failed = EXCLUDED.searches_failed,
			searches_no_results = EXCLUDED.searches_no_results,
			syncs_completed = EXCLUDED.syncs_completed,
			syncs_failed = EXCLUDED.syncs_failed,
			avg_search_duration_ms = EXCLUDED.avg_search_duration_ms,
			avg_queue_depth = EXCLUDED.avg_queue_depth,
			peak_queue_depth = EXCLUDED.peak_queue_depth`,
		connectorID, dayStart, dayEnd)
	if err != nil {
		return fmt.Errorf("store: rollup daily stats: %w", err)
	}
	return nil
}

// PruneAnalyticsEvents deletes raw events older than the cutoff. Aggregates
// are kept indefinitely.
func (s *Store) PruneAnalyticsEvents(ctx context.Context, createdBefore time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM analytics_events WHERE created_at < $1`, createdBefore.UTC())
	if err != nil {
		return 0, fmt.Errorf("store: prune analytics events: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

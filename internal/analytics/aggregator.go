package analytics

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/fetcharr/fetcharr/internal/log"
	"github.com/fetcharr/fetcharr/internal/metrics"
	"github.com/fetcharr/fetcharr/internal/store"
	"github.com/fetcharr/fetcharr/internal/timeutil"
)

// Aggregator folds raw events into hourly buckets and hourly buckets into
// daily ones. Reruns over the same bucket replace the previous aggregate,
// so a missed or repeated firing never double-counts.
type Aggregator struct {
	store          *store.Store
	clock          func() time.Time
	eventRetention time.Duration
}

// NewAggregator builds an Aggregator. clock may be nil (wall clock).
func NewAggregator(st *store.Store, eventRetention time.Duration, clock func() time.Time) *Aggregator {
	if clock == nil {
		clock = time.Now
	}
	if eventRetention <= 0 {
		eventRetention = 7 * 24 * time.Hour
	}
	return &Aggregator{store: st, clock: clock, eventRetention: eventRetention}
}

// RollupHourly aggregates the previous full hour for every enabled
// connector.
func (a *Aggregator) RollupHourly(ctx context.Context) error {
	hour := timeutil.StartOfHour(a.clock()).Add(-time.Hour)
	conns, err := a.store.EnabledConnectors(ctx)
	if err != nil {
		return fmt.Errorf("analytics: list connectors: %w", err)
	}
	for _, conn := range conns {
		r, err := a.store.ComputeHourlyRollup(ctx, conn.ID, hour)
		if err != nil {
			return err
		}
		if err := a.store.UpsertHourlyStats(ctx, r); err != nil {
			return err
		}
	}
	logger := log.WithComponentFromContext(ctx, "analytics")
	logger.Debug().
		Str("event", "rollup.hourly").
		Time("hour_bucket", hour).
		Int("connectors", len(conns)).
		Msg("hourly rollup complete")
	return nil
}

// RollupDaily folds yesterday's hourly rows into daily rows and prunes raw
// events past the retention horizon.
func (a *Aggregator) RollupDaily(ctx context.Context) error {
	now := a.clock()
	day := timeutil.StartOfDay(now).Add(-24 * time.Hour)
	conns, err := a.store.EnabledConnectors(ctx)
	if err != nil {
		return fmt.Errorf("analytics: list connectors: %w", err)
	}
	for _, conn := range conns {
		if err := a.store.RollupDailyStats(ctx, conn.ID, day); err != nil {
			return err
		}
	}
	pruned, err := a.store.PruneAnalyticsEvents(ctx, now.Add(-a.eventRetention))
	if err != nil {
		return err
	}
	logger := log.WithComponentFromContext(ctx, "analytics")
	logger.Info().
		Str("event", "rollup.daily").
		Time("day_bucket", day).
		Int("connectors", len(conns)).
		Int("events_pruned", pruned).
		Msg("daily rollup complete")
	return nil
}

// SampleQueueDepths records one queue-depth snapshot per connector and
// refreshes the queue depth gauges.
func (a *Aggregator) SampleQueueDepths(ctx context.Context, collector *Collector) error {
	depths, err := a.store.QueueDepths(ctx)
	if err != nil {
		return err
	}
	metrics.QueueDepth.Reset()
	perConnector := make(map[int64]map[string]int)
	for _, d := range depths {
		byState := perConnector[d.ConnectorID]
		if byState == nil {
			byState = make(map[string]int)
			perConnector[d.ConnectorID] = byState
		}
		byState[string(d.State)] = d.Count
		metrics.QueueDepth.WithLabelValues(
			strconv.FormatInt(d.ConnectorID, 10), string(d.State)).Set(float64(d.Count))
	}
	for connectorID, byState := range perConnector {
		total := 0
		for _, n := range byState {
			total += n
		}
		collector.Record(ctx, connectorID, QueueDepthSampled{QueueDepth: total, ByState: byState})
	}
	return nil
}

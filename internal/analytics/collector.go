package analytics

import (
	"context"
	"database/sql"
	"time"

	"github.com/fetcharr/fetcharr/internal/log"
	"github.com/fetcharr/fetcharr/internal/store"
)

// Collector inserts raw events. All Record calls are best-effort.
type Collector struct {
	store *store.Store
	clock func() time.Time
}

// NewCollector builds a Collector. clock may be nil (wall clock).
func NewCollector(st *store.Store, clock func() time.Time) *Collector {
	if clock == nil {
		clock = time.Now
	}
	return &Collector{store: st, clock: clock}
}

// Record stores one event for a connector. Failures are logged, never
// returned: analytics must not block or fail the pipeline that emits them.
func (c *Collector) Record(ctx context.Context, connectorID int64, ev Event) {
	c.record(ctx, sql.NullInt64{Int64: connectorID, Valid: connectorID > 0}, ev)
}

// RecordGlobal stores an event with no connector attribution.
func (c *Collector) RecordGlobal(ctx context.Context, ev Event) {
	c.record(ctx, sql.NullInt64{}, ev)
}

func (c *Collector) record(ctx context.Context, connectorID sql.NullInt64, ev Event) {
	logger := log.WithComponentFromContext(ctx, "analytics")
	data, err := Marshal(ev)
	if err != nil {
		logger.Error().
			Err(err).
			Str("event_type", string(ev.EventType())).
			Msg("failed to encode analytics event")
		return
	}
	if err := c.store.InsertAnalyticsEvent(ctx, connectorID, string(ev.EventType()), data, c.clock()); err != nil {
		logger.Error().
			Err(err).
			Str("event_type", string(ev.EventType())).
			Msg("failed to record analytics event")
	}
}

package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fetcharr/fetcharr/internal/log"
	"github.com/fetcharr/fetcharr/internal/metrics"
	"github.com/fetcharr/fetcharr/internal/model"
)

// Batcher flushes deferred notifications: per (channel, event type) group it
// sends one aggregate message once the oldest pending row has aged past the
// channel's batching window, outside quiet hours.
type Batcher struct {
	store      Store
	dispatcher *Dispatcher
	clock      func() time.Time
}

// NewBatcher builds a Batcher sharing the dispatcher's senders and secret
// handling. clock may be nil (wall clock).
func NewBatcher(st Store, dispatcher *Dispatcher, clock func() time.Time) *Batcher {
	if clock == nil {
		clock = time.Now
	}
	return &Batcher{store: st, dispatcher: dispatcher, clock: clock}
}

// Process runs one batching pass over every batching channel.
func (b *Batcher) Process(ctx context.Context) error {
	channels, err := b.store.BatchingChannels(ctx)
	if err != nil {
		return err
	}
	for i := range channels {
		if err := ctx.Err(); err != nil {
			return err
		}
		b.processChannel(ctx, &channels[i])
	}
	return nil
}

func (b *Batcher) processChannel(ctx context.Context, ch *model.NotificationChannel) {
	logger := log.WithComponentFromContext(ctx, "notify")
	now := b.clock()

	if quietHoursActive(&channelWindow{
		enabled:  ch.QuietHoursEnabled,
		start:    ch.QuietHoursStart,
		end:      ch.QuietHoursEnd,
		timezone: ch.QuietHoursTimezone,
	}, now) {
		return
	}
	window := time.Duration(ch.BatchingWindowSeconds) * time.Second

	for _, eventType := range KnownEventTypes {
		pending, err := b.store.PendingNotifications(ctx, ch.ID, eventType)
		if err != nil {
			logger.Error().Err(err).Int64(log.FieldChannelID, ch.ID).Msg("failed to list pending notifications")
			continue
		}
		if len(pending) == 0 {
			continue
		}
		// Rows are oldest-first; the window is measured from the oldest.
		if now.Sub(pending[0].CreatedAt) < window {
			continue
		}
		b.flush(ctx, ch, eventType, pending)
	}
}

func (b *Batcher) flush(ctx context.Context, ch *model.NotificationChannel, eventType string, pending []model.NotificationHistory) {
	logger := log.WithComponentFromContext(ctx, "notify")
	now := b.clock()

	ids := make([]int64, 0, len(pending))
	for _, h := range pending {
		ids = append(ids, h.ID)
	}
	payload := b.aggregate(eventType, pending, now)

	if err := b.dispatcher.deliver(ctx, ch, payload); err != nil {
		metrics.NotificationSends.WithLabelValues(string(ch.Type), "failure").Inc()
		logger.Warn().
			Str("event", "notify.batch_failed").
			Int64(log.FieldChannelID, ch.ID).
			Str("event_type", eventType).
			Int("size", len(ids)).
			Err(err).
			Msg("batched notification delivery failed")
		if merr := b.store.MarkNotificationsFailed(ctx, ids, err.Error()); merr != nil {
			logger.Error().Err(merr).Msg("failed to record batch failure")
		}
		return
	}

	batchID := uuid.NewString()
	metrics.NotificationSends.WithLabelValues(string(ch.Type), "success").Inc()
	if err := b.store.MarkNotificationsBatched(ctx, ids, batchID, now); err != nil {
		logger.Error().Err(err).Msg("failed to close batch")
		return
	}
	logger.Info().
		Str("event", "notify.batch_sent").
		Int64(log.FieldChannelID, ch.ID).
		Str(log.FieldBatchID, batchID).
		Str("event_type", eventType).
		Int("size", len(ids)).
		Msg("batched notification sent")
}

// aggregate folds a group of pending payloads into one message, newest last.
func (b *Batcher) aggregate(eventType string, pending []model.NotificationHistory, now time.Time) *Payload {
	var lines []string
	for _, h := range pending {
		p, err := DecodePayload(h.Payload)
		if err != nil || p.Message == "" {
			continue
		}
		lines = append(lines, p.Message)
	}
	message := strings.Join(lines, "\n")
	payload := Render(eventType, message, nil, now)
	payload.Title = fmt.Sprintf("%s (%d events)", payload.Title, len(pending))
	return payload
}

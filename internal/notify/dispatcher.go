package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fetcharr/fetcharr/internal/log"
	"github.com/fetcharr/fetcharr/internal/metrics"
	"github.com/fetcharr/fetcharr/internal/model"
)

// Store is the persistence surface the dispatcher and batcher consume.
// *store.Store satisfies it.
type Store interface {
	EnabledChannels(ctx context.Context) ([]model.NotificationChannel, error)
	BatchingChannels(ctx context.Context) ([]model.NotificationChannel, error)
	InsertNotificationHistory(ctx context.Context, h *model.NotificationHistory) error
	PendingNotifications(ctx context.Context, channelID int64, eventType string) ([]model.NotificationHistory, error)
	MarkNotificationsBatched(ctx context.Context, ids []int64, batchID string, at time.Time) error
	MarkNotificationsFailed(ctx context.Context, ids []int64, sendErr string) error
	UpdateNotificationStatus(ctx context.Context, id int64, status model.NotificationStatus, sendErr string, at time.Time) error
}

// Decrypter decrypts a channel's sensitive config. secrets.Box satisfies
// this through a method value.
type Decrypter func(ciphertext string) (string, error)

// Dispatcher routes one event to every subscribed channel.
type Dispatcher struct {
	store   Store
	senders *Factory
	decrypt Decrypter
	clock   func() time.Time
}

// NewDispatcher builds a Dispatcher. clock may be nil (wall clock).
func NewDispatcher(st Store, senders *Factory, decrypt Decrypter, clock func() time.Time) *Dispatcher {
	if clock == nil {
		clock = time.Now
	}
	return &Dispatcher{store: st, senders: senders, decrypt: decrypt, clock: clock}
}

// Dispatch renders the event and delivers it to every enabled channel
// subscribed to it. Quiet-hour and batching channels get a pending history
// row instead of an immediate send. Failures never propagate: notification
// delivery must not fail the pipeline that raised the event.
func (d *Dispatcher) Dispatch(ctx context.Context, eventType, message string, fields []Field) {
	logger := log.WithComponentFromContext(ctx, "notify")
	now := d.clock()
	payload := Render(eventType, message, fields, now)
	encoded, err := payload.Encode()
	if err != nil {
		logger.Error().Err(err).Str("event_type", eventType).Msg("failed to encode notification payload")
		return
	}

	channels, err := d.store.EnabledChannels(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list notification channels")
		return
	}
	for i := range channels {
		ch := &channels[i]
		if !subscribed(ch, eventType) {
			continue
		}
		h := &model.NotificationHistory{
			ChannelID: ch.ID,
			EventType: eventType,
			Payload:   encoded,
			Status:    model.NotifyPending,
		}
		quiet := quietHoursActive(&channelWindow{
			enabled:  ch.QuietHoursEnabled,
			start:    ch.QuietHoursStart,
			end:      ch.QuietHoursEnd,
			timezone: ch.QuietHoursTimezone,
		}, now)

		if quiet || ch.BatchingEnabled {
			if err := d.store.InsertNotificationHistory(ctx, h); err != nil {
				logger.Error().Err(err).Int64(log.FieldChannelID, ch.ID).Msg("failed to defer notification")
			}
			continue
		}

		if err := d.store.InsertNotificationHistory(ctx, h); err != nil {
			logger.Error().Err(err).Int64(log.FieldChannelID, ch.ID).Msg("failed to record notification")
			continue
		}
		d.sendNow(ctx, ch, h, payload)
	}
}

func (d *Dispatcher) sendNow(ctx context.Context, ch *model.NotificationChannel, h *model.NotificationHistory, payload *Payload) {
	logger := log.WithComponentFromContext(ctx, "notify")
	err := d.deliver(ctx, ch, payload)
	now := d.clock()
	if err != nil {
		metrics.NotificationSends.WithLabelValues(string(ch.Type), "failure").Inc()
		logger.Warn().
			Str("event", "notify.failed").
			Int64(log.FieldChannelID, ch.ID).
			Str("channel_type", string(ch.Type)).
			Err(err).
			Msg("notification delivery failed")
		if uerr := d.store.UpdateNotificationStatus(ctx, h.ID, model.NotifyFailed, err.Error(), now); uerr != nil {
			logger.Error().Err(uerr).Msg("failed to record delivery failure")
		}
		return
	}
	metrics.NotificationSends.WithLabelValues(string(ch.Type), "success").Inc()
	if uerr := d.store.UpdateNotificationStatus(ctx, h.ID, model.NotifySent, "", now); uerr != nil {
		logger.Error().Err(uerr).Msg("failed to record delivery success")
	}
}

// deliver resolves the sender and the channel secret, then sends.
func (d *Dispatcher) deliver(ctx context.Context, ch *model.NotificationChannel, payload *Payload) error {
	sender, err := d.senders.Sender(ch.Type)
	if err != nil {
		return err
	}
	secret, err := d.channelSecret(ch)
	if err != nil {
		return err
	}
	return sender.Send(ctx, ch, secret, payload)
}

// channelSecret decrypts the sensitive config just in time; it is never
// cached in plaintext.
func (d *Dispatcher) channelSecret(ch *model.NotificationChannel) (string, error) {
	if !ch.SensitiveConfigEncrypted.Valid || ch.SensitiveConfigEncrypted.String == "" {
		return "", nil
	}
	return d.decrypt(ch.SensitiveConfigEncrypted.String)
}

// subscribed checks the channel's JSON event subscription list. An empty or
// unparsable list subscribes to nothing.
func subscribed(ch *model.NotificationChannel, eventType string) bool {
	var events []string
	if err := json.Unmarshal([]byte(ch.SubscribedEvents), &events); err != nil {
		return false
	}
	for _, e := range events {
		if e == eventType || e == "*" {
			return true
		}
	}
	return false
}

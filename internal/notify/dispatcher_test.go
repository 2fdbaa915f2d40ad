package notify

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fetcharr/fetcharr/internal/model"
)

type fakeStore struct {
	channels []model.NotificationChannel
	history  []model.NotificationHistory
	statuses map[int64]model.NotificationStatus
	batched  []int64
	batchID  string
	failed   []int64
}

func (f *fakeStore) EnabledChannels(ctx context.Context) ([]model.NotificationChannel, error) {
	return f.channels, nil
}

func (f *fakeStore) BatchingChannels(ctx context.Context) ([]model.NotificationChannel, error) {
	var out []model.NotificationChannel
	for _, ch := range f.channels {
		if ch.BatchingEnabled {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (f *fakeStore) InsertNotificationHistory(ctx context.Context, h *model.NotificationHistory) error {
	h.ID = int64(len(f.history) + 1)
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now()
	}
	f.history = append(f.history, *h)
	return nil
}

func (f *fakeStore) PendingNotifications(ctx context.Context, channelID int64, eventType string) ([]model.NotificationHistory, error) {
	var out []model.NotificationHistory
	for _, h := range f.history {
		if h.ChannelID == channelID && h.EventType == eventType && h.Status == model.NotifyPending {
			out = append(out, h)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkNotificationsBatched(ctx context.Context, ids []int64, batchID string, at time.Time) error {
	f.batched = append(f.batched, ids...)
	f.batchID = batchID
	return nil
}

func (f *fakeStore) MarkNotificationsFailed(ctx context.Context, ids []int64, sendErr string) error {
	f.failed = append(f.failed, ids...)
	return nil
}

func (f *fakeStore) UpdateNotificationStatus(ctx context.Context, id int64, status model.NotificationStatus, sendErr string, at time.Time) error {
	if f.statuses == nil {
		f.statuses = map[int64]model.NotificationStatus{}
	}
	f.statuses[id] = status
	return nil
}

type fakeSender struct {
	sent []*Payload
	err  error
}

func (f *fakeSender) Send(ctx context.Context, ch *model.NotificationChannel, secret string, p *Payload) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, p)
	return nil
}

func channel(id int64, events string) model.NotificationChannel {
	return model.NotificationChannel{
		ID:               id,
		Type:             model.ChannelWebhook,
		Name:             "hook",
		Enabled:          true,
		Config:           `{"url":"https://example.test/hook"}`,
		SubscribedEvents: events,
	}
}

func newTestDispatcher(st *fakeStore, sender Sender, clock func() time.Time) *Dispatcher {
	factory := NewFactory(nil)
	factory.cache[model.ChannelWebhook] = sender
	decrypt := func(ciphertext string) (string, error) { return ciphertext, nil }
	return NewDispatcher(st, factory, decrypt, clock)
}

func TestDispatchSendsToSubscribedChannels(t *testing.T) {
	st := &fakeStore{channels: []model.NotificationChannel{
		channel(1, `["search_failed"]`),
		channel(2, `["gap_discovered"]`),
		channel(3, `["*"]`),
	}}
	sender := &fakeSender{}
	d := newTestDispatcher(st, sender, nil)

	d.Dispatch(context.Background(), EventSearchFailed, "search for Show S01E02 failed", nil)

	assert.Len(t, sender.sent, 2, "subscribed and wildcard channels only")
	assert.Equal(t, model.NotifySent, st.statuses[1])
	require.Len(t, st.history, 2)
	assert.Equal(t, "Search failed", sender.sent[0].Title)
}

func TestDispatchRecordsFailure(t *testing.T) {
	st := &fakeStore{channels: []model.NotificationChannel{channel(1, `["search_failed"]`)}}
	sender := &fakeSender{err: errors.New("hook gone")}
	d := newTestDispatcher(st, sender, nil)

	d.Dispatch(context.Background(), EventSearchFailed, "boom", nil)

	assert.Equal(t, model.NotifyFailed, st.statuses[1])
}

func TestDispatchDefersDuringQuietHours(t *testing.T) {
	ch := channel(1, `["search_failed"]`)
	ch.QuietHoursEnabled = true
	ch.QuietHoursStart = "22:00"
	ch.QuietHoursEnd = "07:00"
	ch.QuietHoursTimezone = "UTC"
	st := &fakeStore{channels: []model.NotificationChannel{ch}}
	sender := &fakeSender{}
	d := newTestDispatcher(st, sender, func() time.Time {
		return time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	})

	d.Dispatch(context.Background(), EventSearchFailed, "deferred", nil)

	assert.Empty(t, sender.sent)
	require.Len(t, st.history, 1)
	assert.Equal(t, model.NotifyPending, st.history[0].Status)
}

func TestDispatchDefersForBatchingChannels(t *testing.T) {
	ch := channel(1, `["gap_discovered"]`)
	ch.BatchingEnabled = true
	ch.BatchingWindowSeconds = 600
	st := &fakeStore{channels: []model.NotificationChannel{ch}}
	sender := &fakeSender{}
	d := newTestDispatcher(st, sender, nil)

	d.Dispatch(context.Background(), EventGapDiscovered, "12 new gaps", nil)

	assert.Empty(t, sender.sent)
	require.Len(t, st.history, 1)
	assert.Equal(t, model.NotifyPending, st.history[0].Status)
}

func TestBatcherFlushesAgedGroup(t *testing.T) {
	ch := channel(1, `["gap_discovered"]`)
	ch.BatchingEnabled = true
	ch.BatchingWindowSeconds = 600
	st := &fakeStore{channels: []model.NotificationChannel{ch}}
	sender := &fakeSender{}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d := newTestDispatcher(st, sender, func() time.Time { return base })
	d.Dispatch(context.Background(), EventGapDiscovered, "3 new gaps on Sonarr", nil)
	d.Dispatch(context.Background(), EventGapDiscovered, "1 new gap on Radarr", nil)
	for i := range st.history {
		st.history[i].CreatedAt = base
	}

	// Before the window lapses nothing is flushed.
	early := NewBatcher(st, d, func() time.Time { return base.Add(5 * time.Minute) })
	require.NoError(t, early.Process(context.Background()))
	assert.Empty(t, sender.sent)

	late := NewBatcher(st, d, func() time.Time { return base.Add(11 * time.Minute) })
	require.NoError(t, late.Process(context.Background()))

	require.Len(t, sender.sent, 1, "one aggregate message for the whole group")
	assert.Contains(t, sender.sent[0].Title, "(2 events)")
	assert.Contains(t, sender.sent[0].Message, "Sonarr")
	assert.Contains(t, sender.sent[0].Message, "Radarr")
	assert.ElementsMatch(t, []int64{1, 2}, st.batched)
	assert.NotEmpty(t, st.batchID, "all rows share one batch id")
}

func TestBatcherMarksFailures(t *testing.T) {
	ch := channel(1, `["gap_discovered"]`)
	ch.BatchingEnabled = true
	ch.BatchingWindowSeconds = 1
	st := &fakeStore{channels: []model.NotificationChannel{ch}}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	okSender := &fakeSender{}
	d := newTestDispatcher(st, okSender, func() time.Time { return base })
	d.Dispatch(context.Background(), EventGapDiscovered, "gap", nil)
	for i := range st.history {
		st.history[i].CreatedAt = base
	}

	failing := newTestDispatcher(st, &fakeSender{err: errors.New("down")}, func() time.Time { return base })
	b := NewBatcher(st, failing, func() time.Time { return base.Add(time.Minute) })
	require.NoError(t, b.Process(context.Background()))

	assert.Equal(t, []int64{1}, st.failed)
	assert.Empty(t, st.batched)
}

func TestChannelSecretDecryptsJustInTime(t *testing.T) {
	st := &fakeStore{}
	calls := 0
	factory := NewFactory(nil)
	factory.cache[model.ChannelWebhook] = &fakeSender{}
	d := NewDispatcher(st, factory, func(ciphertext string) (string, error) {
		calls++
		return "plain:" + ciphertext, nil
	}, nil)

	ch := channel(1, `["*"]`)
	ch.SensitiveConfigEncrypted = sql.NullString{String: "aabb:cc:dd", Valid: true}
	secret, err := d.channelSecret(&ch)
	require.NoError(t, err)
	assert.Equal(t, "plain:aabb:cc:dd", secret)
	assert.Equal(t, 1, calls)

	plainCh := channel(2, `["*"]`)
	secret, err = d.channelSecret(&plainCh)
	require.NoError(t, err)
	assert.Empty(t, secret)
	assert.Equal(t, 1, calls, "channels without secrets never hit the decrypter")
}

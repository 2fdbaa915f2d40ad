package store

import (
	"context"
	"fmt"
	"time"

	"github.com/fetcharr/fetcharr/internal/model"
	"github.com/jmoiron/sqlx"
)

// EnabledChannels lists every enabled notification channel.
func (s *Store) EnabledChannels(ctx context.Context) ([]model.NotificationChannel, error) {
	var out []model.NotificationChannel
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM notification_channels WHERE enabled ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: enabled channels: %w", err)
	}
	return out, nil
}

// BatchingChannels lists enabled channels with batching switched on.
func (s *Store) BatchingChannels(ctx context.Context) ([]model.NotificationChannel, error) {
	var out []model.NotificationChannel
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM notification_channels WHERE enabled AND batching_enabled ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: batching channels: %w", err)
	}
	return out, nil
}

// InsertNotificationHistory records one pending/sent/failed delivery row.
func (s *Store) InsertNotificationHistory(ctx context.Context, h *model.NotificationHistory) error {
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO notification_history (channel_id, event_type, payload, status, error, batch_id, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`,
		h.ChannelID, h.EventType, h.Payload, h.Status, h.Error, h.BatchID, h.SentAt,
	).Scan(&h.ID, &h.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: insert notification history: %w", err)
	}
	return nil
}

// PendingNotifications lists pending rows for a channel and event type,
// oldest first.
func (s *Store) PendingNotifications(ctx context.Context, channelID int64, eventType string) ([]model.NotificationHistory, error) {
	var out []model.NotificationHistory
	err := s.db.SelectContext(ctx, &out, `
		SELECT * FROM notification_history
		WHERE channel_id = $1 AND event_type = $2 AND status = 'pending'
		ORDER BY created_at, id`, channelID, eventType)
	if err != nil {
		return nil, fmt.Errorf("store: pending notifications: %w", err)
	}
	return out, nil
}

// MarkNotificationsBatched closes a set of pending rows under one batch id.
func (s *Store) MarkNotificationsBatched(ctx context.Context, ids []int64, batchID string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`
		UPDATE notification_history
		SET status = 'batched', batch_id = ?, sent_at = ?
		WHERE id IN (?)`, batchID, at.UTC(), ids)
	if err != nil {
		return fmt.Errorf("store: mark batched in: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("store: mark batched: %w", err)
	}
	return nil
}

// MarkNotificationsFailed records a send failure on a set of rows.
func (s *Store) MarkNotificationsFailed(ctx context.Context, ids []int64, sendErr string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`
		UPDATE notification_history SET status = 'failed', error = ? WHERE id IN (?)`,
		sendErr, ids)
	if err != nil {
		return fmt.Errorf("store: mark failed in: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("store: mark failed: %w", err)
	}
	return nil
}

// UpdateNotificationStatus finalises one direct-send row.
func (s *Store) UpdateNotificationStatus(ctx context.Context, id int64, status model.NotificationStatus, sendErr string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE notification_history
		SET status = $2, error = NULLIF($3, ''), sent_at = $4
		WHERE id = $1`, id, status, sendErr, at.UTC())
	if err != nil {
		return fmt.Errorf("store: update notification status: %w", err)
	}
	return nil
}

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/fetcharr/fetcharr/internal/model"
)

// DueReconnects lists unpaused sync-state rows whose next attempt is due,
// joined against enabled connectors in an offline-ish health state.
func (s *Store) DueReconnects(ctx context.Context, now time.Time) ([]model.SyncState, error) {
	var out []model.SyncState
	err := s.db.SelectContext(ctx, &out, `
		SELECT ss.* FROM sync_state ss
		JOIN connectors c ON c.id = ss.connector_id
		WHERE c.enabled
		  AND c.health_status IN ('offline', 'unhealthy')
		  AND NOT ss.reconnect_paused
		  AND ss.next_reconnect_at IS NOT NULL
		  AND ss.next_reconnect_at <= $1
		ORDER BY ss.next_reconnect_at`, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("store: due reconnects: %w", err)
	}
	return out, nil
}

// BeginReconnect seeds the backoff state when a connector first goes down.
// Idempotent: an in-progress reconnect cycle is left untouched.
func (s *Store) BeginReconnect(ctx context.Context, connectorID int64, firstAttemptAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_state
		SET reconnect_started_at = COALESCE(reconnect_started_at, now()),
		    next_reconnect_at = COALESCE(next_reconnect_at, $2)
		WHERE connector_id = $1`, connectorID, firstAttemptAt.UTC())
	if err != nil {
		return fmt.Errorf("store: begin reconnect: %w", err)
	}
	return nil
}

// RecordReconnectFailure bumps the attempt counter and schedules the next
// probe.
func (s *Store) RecordReconnectFailure(ctx context.Context, connectorID int64, nextAt time.Time, lastError string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_state
		SET reconnect_attempts = reconnect_attempts + 1,
		    next_reconnect_at = $2,
		    last_reconnect_error = $3
		WHERE connector_id = $1`, connectorID, nextAt.UTC(), lastError)
	if err != nil {
		return fmt.Errorf("store: record reconnect failure: %w", err)
	}
	return nil
}

// ResetReconnect clears the backoff state after a successful probe.
func (s *Store) ResetReconnect(ctx context.Context, connectorID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_state
		SET reconnect_attempts = 0, next_reconnect_at = NULL,
		    reconnect_started_at = NULL, last_reconnect_error = NULL
		WHERE connector_id = $1`, connectorID)
	if err != nil {
		return fmt.Errorf("store: reset reconnect: %w", err)
	}
	return nil
}

// PauseReconnect suspends automatic reconnect probing. Idempotent.
func (s *Store) PauseReconnect(ctx context.Context, connectorID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sync_state SET reconnect_paused = TRUE WHERE connector_id = $1`, connectorID)
	if err != nil {
		return fmt.Errorf("store: pause reconnect: %w", err)
	}
	return nil
}

// ResumeReconnect re-enables probing with the given next attempt time.
// Idempotent.
func (s *Store) ResumeReconnect(ctx context.Context, connectorID int64, nextAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_state SET reconnect_paused = FALSE, next_reconnect_at = $2
		WHERE connector_id = $1`, connectorID, nextAt.UTC())
	if err != nil {
		return fmt.Errorf("store: resume reconnect: %w", err)
	}
	return nil
}

// SyncState fetches the reconnect state for one connector.
func (s *Store) SyncState(ctx context.Context, connectorID int64) (*model.SyncState, error) {
	var st model.SyncState
	if err := s.db.GetContext(ctx, &st,
		`SELECT * FROM sync_state WHERE connector_id = $1`, connectorID); err != nil {
		return nil, fmt.Errorf("store: get sync state: %w", err)
	}
	return &st, nil
}

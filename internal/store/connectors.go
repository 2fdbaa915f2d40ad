package store

import (
	"context"
	"fmt"
	"time"

	"github.com/fetcharr/fetcharr/internal/model"
	"github.com/jmoiron/sqlx"
)

// Connectors lists every configured connector.
func (s *Store) Connectors(ctx context.Context) ([]model.Connector, error) {
	var out []model.Connector
	err := s.db.SelectContext(ctx, &out, `SELECT * FROM connectors ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: list connectors: %w", err)
	}
	return out, nil
}

// EnabledConnectors lists connectors with enabled=true.
func (s *Store) EnabledConnectors(ctx context.Context) ([]model.Connector, error) {
	var out []model.Connector
	err := s.db.SelectContext(ctx, &out, `SELECT * FROM connectors WHERE enabled ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: list enabled connectors: %w", err)
	}
	return out, nil
}

// HealthyConnectors lists enabled connectors whose health permits syncing.
func (s *Store) HealthyConnectors(ctx context.Context) ([]model.Connector, error) {
	var out []model.Connector
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM connectors WHERE enabled AND health_status IN ('healthy', 'degraded') ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: list healthy connectors: %w", err)
	}
	return out, nil
}

// Connector fetches one connector by id.
func (s *Store) Connector(ctx context.Context, id int64) (*model.Connector, error) {
	var out model.Connector
	if err := s.db.GetContext(ctx, &out, `SELECT * FROM connectors WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("store: get connector %d: %w", id, err)
	}
	return &out, nil
}

// CreateConnector inserts a connector plus its initial throttle and sync
// state rows.
func (s *Store) CreateConnector(ctx context.Context, c *model.Connector) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.QueryRowxContext(ctx, `
			INSERT INTO connectors (type, name, url, api_key_encrypted, enabled, health_status, throttle_profile_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id, created_at, updated_at`,
			c.Type, c.Name, c.URL, c.APIKeyEncrypted, c.Enabled, c.HealthStatus, c.ThrottleProfileID,
		).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return fmt.Errorf("store: create connector: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO throttle_state (connector_id) VALUES ($1)`, c.ID); err != nil {
			return fmt.Errorf("store: init throttle state: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sync_state (connector_id) VALUES ($1)`, c.ID); err != nil {
			return fmt.Errorf("store: init sync state: %w", err)
		}
		return nil
	})
}

// UpdateConnectorHealth records the latest observed health.
func (s *Store) UpdateConnectorHealth(ctx context.Context, id int64, status model.HealthStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE connectors SET health_status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("store: update connector health: %w", err)
	}
	return nil
}

// TouchConnectorSync stamps last_sync_at.
func (s *Store) TouchConnectorSync(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE connectors SET last_sync_at = $2, updated_at = now() WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("store: touch connector sync: %w", err)
	}
	return nil
}

// DeleteConnector removes a connector; the schema cascades the content
// subtree, registries, commands and state rows.
func (s *Store) DeleteConnector(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM connectors WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: delete connector: %w", err)
	}
	return nil
}

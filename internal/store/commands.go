package store

import (
	"context"
	"fmt"
	"time"

	"github.com/fetcharr/fetcharr/internal/model"
)

// InsertPendingCommand records a dispatched search for the command monitor.
func (s *Store) InsertPendingCommand(ctx context.Context, c *model.PendingCommand) error {
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO pending_commands (connector_id, command_id, content_type, content_id, command_status, dispatched_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		c.ConnectorID, c.CommandID, c.ContentType, c.ContentID, c.CommandStatus, c.DispatchedAt.UTC(),
	).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("store: insert pending command: %w", err)
	}
	return nil
}

// OpenCommands lists non-terminal commands for one connector.
func (s *Store) OpenCommands(ctx context.Context, connectorID int64) ([]model.PendingCommand, error) {
	var out []model.PendingCommand
	err := s.db.SelectContext(ctx, &out, `
		SELECT * FROM pending_commands
		WHERE connector_id = $1 AND command_status IN ('queued', 'started')
		ORDER BY dispatched_at`, connectorID)
	if err != nil {
		return nil, fmt.Errorf("store: open commands: %w", err)
	}
	return out, nil
}

// ConnectorsWithOpenCommands lists connector ids that still have commands in
// flight.
func (s *Store) ConnectorsWithOpenCommands(ctx context.Context) ([]int64, error) {
	var out []int64
	err := s.db.SelectContext(ctx, &out, `
		SELECT DISTINCT connector_id FROM pending_commands
		WHERE command_status IN ('queued', 'started') ORDER BY connector_id`)
	if err != nil {
		return nil, fmt.Errorf("store: connectors with open commands: %w", err)
	}
	return out, nil
}

// UpdateCommandStatus records the latest upstream status for a command row.
func (s *Store) UpdateCommandStatus(ctx context.Context, id int64, status model.CommandStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE pending_commands SET command_status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("store: update command status: %w", err)
	}
	return nil
}

// TimeoutStaleCommands force-closes commands with no terminal state after
// the cutoff. Returns the number closed.
func (s *Store) TimeoutStaleCommands(ctx context.Context, dispatchedBefore time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_commands SET command_status = 'failed'
		WHERE command_status IN ('queued', 'started') AND dispatched_at < $1`,
		dispatchedBefore.UTC())
	if err != nil {
		return 0, fmt.Errorf("store: timeout stale commands: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// PruneTerminalCommands deletes terminal rows older than the cutoff.
func (s *Store) PruneTerminalCommands(ctx context.Context, dispatchedBefore time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM pending_commands
		WHERE command_status IN ('completed', 'failed') AND dispatched_at < $1`,
		dispatchedBefore.UTC())
	if err != nil {
		return 0, fmt.Errorf("store: prune terminal commands: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

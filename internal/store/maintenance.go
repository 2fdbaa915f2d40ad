package store

import (
	"context"
	"fmt"
	"time"
)

// pruneChunkSize bounds each batched DELETE so long locks are avoided.
const pruneChunkSize = 10000

// PruneSearchHistory deletes search history older than the cutoff in
// chunks. Returns the total rows removed.
func (s *Store) PruneSearchHistory(ctx context.Context, createdBefore time.Time) (int, error) {
	return s.pruneChunked(ctx, "search_history", createdBefore)
}

// PruneAppLogs deletes persisted application logs older than the cutoff in
// chunks.
func (s *Store) PruneAppLogs(ctx context.Context, createdBefore time.Time) (int, error) {
	return s.pruneChunked(ctx, "app_logs", createdBefore)
}

func (s *Store) pruneChunked(ctx context.Context, table string, createdBefore time.Time) (int, error) {
	total := 0
	query := fmt.Sprintf(`
		DELETE FROM %s WHERE id IN (
			SELECT id FROM %s WHERE created_at < $1 ORDER BY id LIMIT $2
		)`, table, table)
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		res, err := s.db.ExecContext(ctx, query, createdBefore.UTC(), pruneChunkSize)
		if err != nil {
			return total, fmt.Errorf("store: prune %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += int(n)
		if n < pruneChunkSize {
			return total, nil
		}
	}
}

// InsertAppLog persists one application log entry. fields is a rendered
// JSON object; empty means none.
func (s *Store) InsertAppLog(ctx context.Context, level, component, message, fields string) error {
	if fields == "" {
		fields = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_logs (level, component, message, fields)
		VALUES ($1, $2, $3, $4)`, level, component, message, fields)
	if err != nil {
		return fmt.Errorf("store: insert app log: %w", err)
	}
	return nil
}

// InsertSearchHistory appends one search outcome row.
func (s *Store) InsertSearchHistory(ctx context.Context, connectorID int64, contentType, searchType, outcome string, contentID int64, durationMs int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO search_history (connector_id, content_type, content_id, search_type, outcome, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		connectorID, contentType, contentID, searchType, outcome, durationMs)
	if err != nil {
		return fmt.Errorf("store: insert search history: %w", err)
	}
	return nil
}

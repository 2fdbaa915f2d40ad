package store

import (
	"context"
	"fmt"
)

// CompletionStat is the per-connector library completion snapshot.
type CompletionStat struct {
	ConnectorID int64 `db:"connector_id"`
	Total       int   `db:"total"`
	WithFile    int   `db:"with_file"`
}

// Ratio returns completion in [0,1]; an empty library counts as complete.
func (c CompletionStat) Ratio() float64 {
	if c.Total == 0 {
		return 1
	}
	return float64(c.WithFile) / float64(c.Total)
}

// CompletionStats counts monitored content and how much of it has a file,
// per connector, across episodes and movies.
func (s *Store) CompletionStats(ctx context.Context) ([]CompletionStat, error) {
	var out []CompletionStat
	err := s.db.SelectContext(ctx, &out, `
		SELECT connector_id, COUNT(*) AS total,
		       COUNT(*) FILTER (WHERE has_file) AS with_file
		FROM (
			SELECT connector_id, has_file FROM episodes WHERE monitored
			UNION ALL
			SELECT connector_id, has_file FROM movies WHERE monitored
		) content
		GROUP BY connector_id
		ORDER BY connector_id`)
	if err != nil {
		return nil, fmt.Errorf("store: completion stats: %w", err)
	}
	return out, nil
}

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/fetcharr/fetcharr/internal/model"
	"github.com/jmoiron/sqlx"
)

// UpsertRegistry creates a registry in state pending, or leaves an existing
// live row untouched. Discovery is idempotent through the unique key on
// (connector, content type, content id, search type).
// Returns true when a new row was created.
func (s *Store) UpsertRegistry(ctx context.Context, connectorID int64, contentType model.ContentType, contentID int64, searchType model.SearchType) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO search_registry (connector_id, content_type, content_id, search_type, state)
		VALUES ($1, $2, $3, $4, 'pending')
		ON CONFLICT (connector_id, content_type, content_id, search_type) DO NOTHING`,
		connectorID, contentType, contentID, searchType)
	if err != nil {
		return false, fmt.Errorf("store: upsert registry: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ResolveAcquiredRegistries deletes registries whose underlying content no
// longer needs them: gaps whose content now has a file, and upgrades whose
// cutoff is met. Runs at the start of every discovery pass.
func (s *Store) ResolveAcquiredRegistries(ctx context.Context, connectorID int64) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM search_registry r
		WHERE r.connector_id = $1
		  AND (
			(r.content_type = 'episode' AND r.search_type = 'gap' AND EXISTS (
				SELECT 1 FROM episodes e WHERE e.connector_id = r.connector_id AND e.id = r.content_id AND e.has_file))
			OR (r.content_type = 'episode' AND r.search_type = 'upgrade' AND EXISTS (
				SELECT 1 FROM episodes e WHERE e.connector_id = r.connector_id AND e.id = r.content_id AND NOT e.quality_cutoff_not_met))
			OR (r.content_type = 'movie' AND r.search_type = 'gap' AND EXISTS (
				SELECT 1 FROM movies m WHERE m.connector_id = r.connector_id AND m.id = r.content_id AND m.has_file))
			OR (r.content_type = 'movie' AND r.search_type = 'upgrade' AND EXISTS (
				SELECT 1 FROM movies m WHERE m.connector_id = r.connector_id AND m.id = r.content_id AND NOT m.quality_cutoff_not_met))
		  )`, connectorID)
	if err != nil {
		return 0, fmt.Errorf("store: resolve registries: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// DeleteOrphanedRegistries removes registries whose content row no longer
// exists for the same connector.
func (s *Store) DeleteOrphanedRegistries(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM search_registry r
		WHERE (r.content_type = 'episode' AND NOT EXISTS (
			SELECT 1 FROM episodes e WHERE e.connector_id = r.connector_id AND e.id = r.content_id))
		   OR (r.content_type = 'movie' AND NOT EXISTS (
			SELECT 1 FROM movies m WHERE m.connector_id = r.connector_id AND m.id = r.content_id))`)
	if err != nil {
		return 0, fmt.Errorf("store: delete orphaned registries: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// EnqueuePendingRegistries moves pending rows to queued for one connector.
func (s *Store) EnqueuePendingRegistries(ctx context.Context, connectorID int64) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE search_registry SET state = 'queued', updated_at = now()
		WHERE connector_id = $1 AND state = 'pending'`, connectorID)
	if err != nil {
		return 0, fmt.Errorf("store: enqueue pending: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// dequeueOrderSQL ranks queued rows per the dispatch priority: gaps before
// upgrades; movie and episode streams round-robin so neither starves; lower
// backlog tiers first; oldest first; id as the final tiebreak.
const dequeueOrderSQL = `
	SELECT id FROM (
		SELECT id, search_type, content_type, backlog_tier, created_at,
		       ROW_NUMBER() OVER (
		           PARTITION BY search_type, content_type
		           ORDER BY backlog_tier, created_at, id
		       ) AS rn
		FROM search_registry
		WHERE connector_id = $1 AND state = 'queued'
	) ranked
	ORDER BY CASE search_type WHEN 'gap' THEN 0 ELSE 1 END,
	         rn, content_type, backlog_tier, created_at, id
	LIMIT $2`

// ClaimBatch selects up to limit queued rows in priority order and claims
// them by transitioning queued -> searching. The claim re-checks the state
// so a concurrent claimer can never double-dispatch a row.
func (s *Store) ClaimBatch(ctx context.Context, connectorID int64, limit int) ([]model.Registry, error) {
	var claimed []model.Registry
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var ids []int64
		if err := tx.SelectContext(ctx, &ids, dequeueOrderSQL, connectorID, limit); err != nil {
			return fmt.Errorf("store: dequeue order: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}
		query, args, err := sqlx.In(`
			UPDATE search_registry SET state = 'searching', updated_at = now()
			WHERE id IN (?) AND state = 'queued'
			RETURNING *`, ids)
		if err != nil {
			return fmt.Errorf("store: claim batch in: %w", err)
		}
		if err := tx.SelectContext(ctx, &claimed, tx.Rebind(query), args...); err != nil {
			return fmt.Errorf("store: claim batch: %w", err)
		}
		// RETURNING does not preserve the priority order; restore it.
		pos := make(map[int64]int, len(ids))
		for i, id := range ids {
			pos[id] = i
		}
		sortRegistriesBy(claimed, pos)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func sortRegistriesBy(rs []model.Registry, pos map[int64]int) {
	for i := 1; i < len(rs); i++ {
		for j := i; j > 0 && pos[rs[j].ID] < pos[rs[j-1].ID]; j-- {
			rs[j], rs[j-1] = rs[j-1], rs[j]
		}
	}
}

// RevertToQueued returns searching rows to queued, e.g. when the throttle
// denies the rest of a batch.
func (s *Store) RevertToQueued(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`
		UPDATE search_registry SET state = 'queued', updated_at = now()
		WHERE id IN (?) AND state = 'searching'`, ids)
	if err != nil {
		return fmt.Errorf("store: revert in: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("store: revert to queued: %w", err)
	}
	return nil
}

// MarkDispatched returns a successfully dispatched row to pending; the
// registry is resolved (deleted) once the content is acquired. Attempt
// counts track failures only, so a success leaves the count alone.
func (s *Store) MarkDispatched(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE search_registry
		SET state = 'pending', updated_at = now()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: mark dispatched: %w", err)
	}
	return nil
}

// FailToCooldown transitions a searching row to cooldown (or exhausted once
// maxAttempts is reached) and schedules the next attempt.
func (s *Store) FailToCooldown(ctx context.Context, id int64, nextEligibleAt time.Time, maxAttempts int) (model.RegistryState, error) {
	var state model.RegistryState
	err := s.db.GetContext(ctx, &state, `
		UPDATE search_registry
		SET attempt_count = attempt_count + 1,
		    state = CASE WHEN attempt_count + 1 >= $3 THEN 'exhausted' ELSE 'cooldown' END,
		    next_eligible_at = CASE WHEN attempt_count + 1 >= $3 THEN NULL ELSE $2 END,
		    updated_at = now()
		WHERE id = $1
		RETURNING state`, id, nextEligibleAt.UTC(), maxAttempts)
	if err != nil {
		return "", fmt.Errorf("store: fail to cooldown: %w", err)
	}
	return state, nil
}

// ReenqueueEligibleCooldown moves cooldown rows whose next_eligible_at has
// passed back to queued.
func (s *Store) ReenqueueEligibleCooldown(ctx context.Context, connectorID int64, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE search_registry SET state = 'queued', next_eligible_at = NULL, updated_at = now()
		WHERE connector_id = $1 AND state = 'cooldown' AND next_eligible_at <= $2`,
		connectorID, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("store: reenqueue cooldown: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// RecoverOrphanedSearches reverts rows stuck in searching longer than the
// stale threshold. Crash recovery: no row may stay searching forever.
func (s *Store) RecoverOrphanedSearches(ctx context.Context, staleBefore time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE search_registry SET state = 'queued', updated_at = now()
		WHERE state = 'searching' AND updated_at < $1`, staleBefore.UTC())
	if err != nil {
		return 0, fmt.Errorf("store: recover orphans: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// RecoverBacklog migrates exhausted rows into cooldown at the given backlog
// tier with a fresh eligibility time. All-or-none.
func (s *Store) RecoverBacklog(ctx context.Context, tierDelays map[int]time.Duration, now time.Time) (int, error) {
	now = now.UTC()
	total := 0
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var rows []model.Registry
		if err := tx.SelectContext(ctx, &rows,
			`SELECT * FROM search_registry WHERE state = 'exhausted' FOR UPDATE`); err != nil {
			return fmt.Errorf("store: select exhausted: %w", err)
		}
		for _, r := range rows {
			tier := r.BacklogTier
			if tier < 1 {
				tier = 1
			}
			delay, ok := tierDelays[tier]
			if !ok {
				// Past the last configured tier: reuse the largest delay.
				for t, d := range tierDelays {
					if t <= tier && d > delay {
						delay = d
					}
				}
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE search_registry
				SET state = 'cooldown', backlog_tier = $2, attempt_count = 0,
				    next_eligible_at = $3, updated_at = now()
				WHERE id = $1`, r.ID, tier, now.Add(delay)); err != nil {
				return fmt.Errorf("store: recover backlog row %d: %w", r.ID, err)
			}
			total++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// PromoteBacklogTier bumps rows that exhausted again at their current tier to
// the next tier.
func (s *Store) PromoteBacklogTier(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE search_registry SET backlog_tier = backlog_tier + 1, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: promote backlog tier: %w", err)
	}
	return nil
}

// QueueDepth is the per-state live registry count for one connector.
type QueueDepth struct {
	ConnectorID int64               `db:"connector_id"`
	State       model.RegistryState `db:"state"`
	Count       int                 `db:"count"`
}

// QueueDepths groups live registries by (connector, state), restricted to
// the live states.
func (s *Store) QueueDepths(ctx context.Context) ([]QueueDepth, error) {
	var out []QueueDepth
	err := s.db.SelectContext(ctx, &out, `
		SELECT connector_id, state, COUNT(*) AS count
		FROM search_registry
		WHERE state IN ('pending', 'queued', 'searching', 'cooldown')
		GROUP BY connector_id, state
		ORDER BY connector_id, state`)
	if err != nil {
		return nil, fmt.Errorf("store: queue depths: %w", err)
	}
	return out, nil
}

// Registry fetches one row by id.
func (s *Store) Registry(ctx context.Context, id int64) (*model.Registry, error) {
	var r model.Registry
	if err := s.db.GetContext(ctx, &r, `SELECT * FROM search_registry WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("store: get registry %d: %w", id, err)
	}
	return &r, nil
}

package store

import (
	"context"
	"fmt"

	"github.com/fetcharr/fetcharr/internal/model"
	"github.com/jmoiron/sqlx"
)

// UpsertSeries mirrors one upstream series row and returns its local id.
func (s *Store) UpsertSeries(ctx context.Context, connectorID, upstreamID int64, title string, monitored bool) (int64, error) {
	var id int64
	err := s.db.GetContext(ctx, &id, `
		INSERT INTO series (connector_id, upstream_id, title, monitored)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (connector_id, upstream_id)
		DO UPDATE SET title = EXCLUDED.title, monitored = EXCLUDED.monitored
		RETURNING id`, connectorID, upstreamID, title, monitored)
	if err != nil {
		return 0, fmt.Errorf("store: upsert series: %w", err)
	}
	return id, nil
}

// UpsertSeason mirrors one season row of a local series.
func (s *Store) UpsertSeason(ctx context.Context, seriesID int64, seasonNumber int, monitored bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO seasons (series_id, season_number, monitored)
		VALUES ($1, $2, $3)
		ON CONFLICT (series_id, season_number)
		DO UPDATE SET monitored = EXCLUDED.monitored`, seriesID, seasonNumber, monitored)
	if err != nil {
		return fmt.Errorf("store: upsert season: %w", err)
	}
	return nil
}

// UpsertEpisode mirrors one upstream episode row and returns its local id.
func (s *Store) UpsertEpisode(ctx context.Context, e *model.Episode) (int64, error) {
	var id int64
	err := s.db.GetContext(ctx, &id, `
		INSERT INTO episodes (connector_id, upstream_id, series_id, season_number, episode_number,
		                      title, has_file, monitored, quality_cutoff_not_met, quality)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (connector_id, upstream_id)
		DO UPDATE SET series_id = EXCLUDED.series_id,
		              season_number = EXCLUDED.season_number,
		              episode_number = EXCLUDED.episode_number,
		              title = EXCLUDED.title,
		              has_file = EXCLUDED.has_file,
		              monitored = EXCLUDED.monitored,
		              quality_cutoff_not_met = EXCLUDED.quality_cutoff_not_met,
		              quality = EXCLUDED.quality
		RETURNING id`,
		e.ConnectorID, e.UpstreamID, e.SeriesID, e.SeasonNumber, e.EpisodeNumber,
		e.Title, e.HasFile, e.Monitored, e.QualityCutoffNotMet, e.Quality)
	if err != nil {
		return 0, fmt.Errorf("store: upsert episode: %w", err)
	}
	return id, nil
}

// UpsertMovie mirrors one upstream movie row and returns its local id.
func (s *Store) UpsertMovie(ctx context.Context, m *model.Movie) (int64, error) {
	var id int64
	err := s.db.GetContext(ctx, &id, `
		INSERT INTO movies (connector_id, upstream_id, title, has_file, monitored, quality_cutoff_not_met, quality)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (connector_id, upstream_id)
		DO UPDATE SET title = EXCLUDED.title,
		              has_file = EXCLUDED.has_file,
		              monitored = EXCLUDED.monitored,
		              quality_cutoff_not_met = EXCLUDED.quality_cutoff_not_met,
		              quality = EXCLUDED.quality
		RETURNING id`,
		m.ConnectorID, m.UpstreamID, m.Title, m.HasFile, m.Monitored, m.QualityCutoffNotMet, m.Quality)
	if err != nil {
		return 0, fmt.Errorf("store: upsert movie: %w", err)
	}
	return id, nil
}

// SetEpisodeCutoffNotMet updates the cutoff flag by upstream id, used when
// walking wanted-cutoff pages without a full episode payload.
func (s *Store) SetEpisodeCutoffNotMet(ctx context.Context, connectorID, upstreamID int64, notMet bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE episodes SET quality_cutoff_not_met = $3
		WHERE connector_id = $1 AND upstream_id = $2`, connectorID, upstreamID, notMet)
	if err != nil {
		return fmt.Errorf("store: set episode cutoff flag: %w", err)
	}
	return nil
}

// EpisodeIDByUpstream resolves a local episode id.
func (s *Store) EpisodeIDByUpstream(ctx context.Context, connectorID, upstreamID int64) (int64, error) {
	var id int64
	err := s.db.GetContext(ctx, &id,
		`SELECT id FROM episodes WHERE connector_id = $1 AND upstream_id = $2`, connectorID, upstreamID)
	if err != nil {
		return 0, fmt.Errorf("store: episode by upstream: %w", err)
	}
	return id, nil
}

// MovieGaps lists monitored movies without a file.
func (s *Store) MovieGaps(ctx context.Context, connectorID int64) ([]model.Movie, error) {
	var out []model.Movie
	err := s.db.SelectContext(ctx, &out, `
		SELECT * FROM movies WHERE connector_id = $1 AND monitored AND NOT has_file ORDER BY id`,
		connectorID)
	if err != nil {
		return nil, fmt.Errorf("store: movie gaps: %w", err)
	}
	return out, nil
}

// MovieUpgrades lists monitored movies below their quality cutoff.
func (s *Store) MovieUpgrades(ctx context.Context, connectorID int64) ([]model.Movie, error) {
	var out []model.Movie
	err := s.db.SelectContext(ctx, &out, `
		SELECT * FROM movies
		WHERE connector_id = $1 AND monitored AND has_file AND quality_cutoff_not_met ORDER BY id`,
		connectorID)
	if err != nil {
		return nil, fmt.Errorf("store: movie upgrades: %w", err)
	}
	return out, nil
}

// MovieUpstreamID resolves content id -> upstream id for dispatch.
func (s *Store) MovieUpstreamID(ctx context.Context, id int64) (int64, error) {
	var upstream int64
	if err := s.db.GetContext(ctx, &upstream, `SELECT upstream_id FROM movies WHERE id = $1`, id); err != nil {
		return 0, fmt.Errorf("store: movie upstream id: %w", err)
	}
	return upstream, nil
}

// EpisodeUpstreamID resolves content id -> upstream id for dispatch.
func (s *Store) EpisodeUpstreamID(ctx context.Context, id int64) (int64, error) {
	var upstream int64
	if err := s.db.GetContext(ctx, &upstream, `SELECT upstream_id FROM episodes WHERE id = $1`, id); err != nil {
		return 0, fmt.Errorf("store: episode upstream id: %w", err)
	}
	return upstream, nil
}

// PruneVanishedCatalog deletes mirror rows whose upstream keys no longer
// appear, cascading registries and commands. Full reconciliation only.
func (s *Store) PruneVanishedCatalog(ctx context.Context, connectorID int64, keepSeries, keepEpisodes, keepMovies []int64) (int, error) {
	deleted := 0
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, spec := range []struct {
			table string
			keep  []int64
		}{
			{"series", keepSeries},
			{"episodes", keepEpisodes},
			{"movies", keepMovies},
		} {
			var (
				query string
				args  []any
				err   error
			)
			if len(spec.keep) == 0 {
				query = fmt.Sprintf(`DELETE FROM %s WHERE connector_id = ?`, spec.table)
				args = []any{connectorID}
			} else {
				query, args, err = sqlx.In(
					fmt.Sprintf(`DELETE FROM %s WHERE connector_id = ? AND upstream_id NOT IN (?)`, spec.table),
					connectorID, spec.keep)
				if err != nil {
					return fmt.Errorf("store: prune %s in: %w", spec.table, err)
				}
			}
			res, err := tx.ExecContext(ctx, tx.Rebind(query), args...)
			if err != nil {
				return fmt.Errorf("store: prune %s: %w", spec.table, err)
			}
			n, _ := res.RowsAffected()
			deleted += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// Package catalog mirrors upstream libraries into the local schema and
// discovers search work: gaps (monitored content without a file) and
// upgrades (content below its quality cutoff). Discovery feeds the search
// registry; satisfied registries are resolved at the start of every pass.
package catalog

import (
	"context"
	"strconv"
	"time"

	"github.com/fetcharr/fetcharr/internal/analytics"
	"github.com/fetcharr/fetcharr/internal/arr"
	"github.com/fetcharr/fetcharr/internal/log"
	"github.com/fetcharr/fetcharr/internal/metrics"
	"github.com/fetcharr/fetcharr/internal/model"
)

// Mode labels a sweep.
type Mode string

const (
	ModeIncremental Mode = "incremental"
	ModeFullRecon   Mode = "full_reconciliation"
)

// Store is the persistence surface the syncer consumes. *store.Store
// satisfies it; tests substitute fakes.
type Store interface {
	UpsertSeries(ctx context.Context, connectorID, upstreamID int64, title string, monitored bool) (int64, error)
	UpsertSeason(ctx context.Context, seriesID int64, seasonNumber int, monitored bool) error
	UpsertEpisode(ctx context.Context, e *model.Episode) (int64, error)
	UpsertMovie(ctx context.Context, m *model.Movie) (int64, error)
	SetEpisodeCutoffNotMet(ctx context.Context, connectorID, upstreamID int64, notMet bool) error
	EpisodeIDByUpstream(ctx context.Context, connectorID, upstreamID int64) (int64, error)
	MovieGaps(ctx context.Context, connectorID int64) ([]model.Movie, error)
	MovieUpgrades(ctx context.Context, connectorID int64) ([]model.Movie, error)
	UpsertRegistry(ctx context.Context, connectorID int64, contentType model.ContentType, contentID int64, searchType model.SearchType) (bool, error)
	ResolveAcquiredRegistries(ctx context.Context, connectorID int64) (int, error)
	EnqueuePendingRegistries(ctx context.Context, connectorID int64) (int, error)
	DeleteOrphanedRegistries(ctx context.Context) (int, error)
	PruneVanishedCatalog(ctx context.Context, connectorID int64, keepSeries, keepEpisodes, keepMovies []int64) (int, error)
	TouchConnectorSync(ctx context.Context, id int64, at time.Time) error
}

// Recorder receives analytics events. *analytics.Collector satisfies it.
type Recorder interface {
	Record(ctx context.Context, connectorID int64, ev analytics.Event)
}

// ClientResolver yields a ready client for a connector.
type ClientResolver func(ctx context.Context, conn *model.Connector) (arr.ClientInterface, error)

// Result summarises one sweep over one connector.
type Result struct {
	Mode               Mode
	ItemsSynced        int
	ItemsPruned        int
	GapsFound          int
	UpgradesFound      int
	RegistriesCreated  int
	RegistriesResolved int
	RegistriesEnqueued int
	RecordsSkipped     int
	Duration           time.Duration
}

// Syncer runs catalog sweeps for one connector at a time.
type Syncer struct {
	store   Store
	events  Recorder
	clients ClientResolver
	clock   func() time.Time
}

// New builds a Syncer. clock may be nil (wall clock).
func New(st Store, events Recorder, clients ClientResolver, clock func() time.Time) *Syncer {
	if clock == nil {
		clock = time.Now
	}
	return &Syncer{store: st, events: events, clients: clients, clock: clock}
}

// Incremental mirrors the upstream library additively (no deletes) and runs
// discovery.
func (s *Syncer) Incremental(ctx context.Context, conn *model.Connector) (*Result, error) {
	return s.sweep(ctx, conn, ModeIncremental)
}

// FullReconcile mirrors the library and additionally prunes local rows whose
// upstream keys have vanished, cascading their registries.
func (s *Syncer) FullReconcile(ctx context.Context, conn *model.Connector) (*Result, error) {
	return s.sweep(ctx, conn, ModeFullRecon)
}

func (s *Syncer) sweep(ctx context.Context, conn *model.Connector, mode Mode) (*Result, error) {
	ctx = log.ContextWithConnectorID(ctx, conn.ID)
	logger := log.WithComponentFromContext(ctx, "catalog")
	start := s.clock()
	res := &Result{Mode: mode}

	err := s.run(ctx, conn, mode, res)
	res.Duration = s.clock().Sub(start)
	metrics.SyncDuration.WithLabelValues(strconv.FormatInt(conn.ID, 10), string(mode)).
		Observe(res.Duration.Seconds())

	if err != nil {
		s.events.Record(ctx, conn.ID, analytics.SyncFailed{
			Mode:       string(mode),
			Error:      err.Error(),
			DurationMs: res.Duration.Milliseconds(),
		})
		logger.Error().
			Str("event", "sync.failed").
			Str("mode", string(mode)).
			Err(err).
			Msg("catalog sweep failed")
		return res, err
	}

	if res.GapsFound > 0 {
		s.events.Record(ctx, conn.ID, analytics.GapDiscovered{
			GapsFound:          res.GapsFound,
			RegistriesCreated:  res.RegistriesCreated,
			RegistriesResolved: res.RegistriesResolved,
		})
	}
	if res.UpgradesFound > 0 {
		s.events.Record(ctx, conn.ID, analytics.UpgradeDiscovered{
			UpgradesFound:      res.UpgradesFound,
			RegistriesCreated:  res.RegistriesCreated,
			RegistriesResolved: res.RegistriesResolved,
		})
	}
	s.events.Record(ctx, conn.ID, analytics.SyncCompleted{
		Mode:               string(mode),
		ItemsSynced:        res.ItemsSynced,
		GapsFound:          res.GapsFound,
		UpgradesFound:      res.UpgradesFound,
		RegistriesCreated:  res.RegistriesCreated,
		RegistriesResolved: res.RegistriesResolved,
		DurationMs:         res.Duration.Milliseconds(),
	})
	logger.Info().
		Str("event", "sync.completed").
		Str("mode", string(mode)).
		Int("items_synced", res.ItemsSynced).
		Int("items_pruned", res.ItemsPruned).
		Int("gaps_found", res.GapsFound).
		Int("upgrades_found", res.UpgradesFound).
		Int("registries_created", res.RegistriesCreated).
		Int("registries_resolved", res.RegistriesResolved).
		Int("registries_enqueued", res.RegistriesEnqueued).
		Int("records_skipped", res.RecordsSkipped).
		Dur("duration", res.Duration).
		Msg("catalog sweep complete")
	return res, nil
}

func (s *Syncer) run(ctx context.Context, conn *model.Connector, mode Mode, res *Result) error {
	client, err := s.clients(ctx, conn)
	if err != nil {
		return err
	}

	if conn.IsEpisodeBased() {
		err = s.mirrorSeries(ctx, client, conn, mode, res)
	} else {
		err = s.mirrorMovies(ctx, client, conn, mode, res)
	}
	if err != nil {
		return err
	}
	if err := s.store.TouchConnectorSync(ctx, conn.ID, s.clock()); err != nil {
		return err
	}

	// Resolve before discovering: a registry whose content was acquired
	// since the last pass must never be re-queued.
	resolved, err := s.store.ResolveAcquiredRegistries(ctx, conn.ID)
	if err != nil {
		return err
	}
	res.RegistriesResolved = resolved

	if conn.IsEpisodeBased() {
		if err := s.discoverEpisodeGaps(ctx, client, conn, res); err != nil {
			return err
		}
		if err := s.discoverEpisodeUpgrades(ctx, client, conn, res); err != nil {
			return err
		}
	} else {
		if err := s.discoverMovieGaps(ctx, conn, res); err != nil {
			return err
		}
		if err := s.discoverMovieUpgrades(ctx, conn, res); err != nil {
			return err
		}
	}

	// Promote pending rows to queued last, once resolution and discovery
	// have settled which registries are still wanted. The dispatch pass
	// only ever claims queued rows, so content returned to pending after a
	// successful dispatch sits out until the next sweep.
	enqueued, err := s.store.EnqueuePendingRegistries(ctx, conn.ID)
	if err != nil {
		return err
	}
	res.RegistriesEnqueued = enqueued
	return nil
}

func (s *Syncer) mirrorSeries(ctx context.Context, client arr.ClientInterface, conn *model.Connector, mode Mode, res *Result) error {
	series, err := client.Series(ctx)
	if err != nil {
		return err
	}
	keepSeries := make([]int64, 0, len(series))
	var keepEpisodes []int64
	for _, sr := range series {
		localSeriesID, err := s.store.UpsertSeries(ctx, conn.ID, sr.ID, sr.Title, sr.Monitored)
		if err != nil {
			return err
		}
		keepSeries = append(keepSeries, sr.ID)
		for _, season := range sr.Seasons {
			if err := s.store.UpsertSeason(ctx, localSeriesID, season.SeasonNumber, season.Monitored); err != nil {
				return err
			}
		}
		episodes, err := client.Episodes(ctx, sr.ID)
		if err != nil {
			return err
		}
		for _, er := range episodes {
			_, err := s.store.UpsertEpisode(ctx, &model.Episode{
				ConnectorID:   conn.ID,
				UpstreamID:    er.ID,
				SeriesID:      localSeriesID,
				SeasonNumber:  er.SeasonNumber,
				EpisodeNumber: er.EpisodeNumber,
				Title:         er.Title,
				HasFile:       er.HasFile,
				Monitored:     er.Monitored,
			})
			if err != nil {
				return err
			}
			keepEpisodes = append(keepEpisodes, er.ID)
			res.ItemsSynced++
		}
	}
	if mode == ModeFullRecon {
		return s.pruneVanished(ctx, conn, keepSeries, keepEpisodes, nil, res)
	}
	return nil
}

func (s *Syncer) mirrorMovies(ctx context.Context, client arr.ClientInterface, conn *model.Connector, mode Mode, res *Result) error {
	movies, err := client.Movies(ctx)
	if err != nil {
		return err
	}
	keep := make([]int64, 0, len(movies))
	for _, mr := range movies {
		cutoffNotMet := mr.MovieFile != nil && mr.MovieFile.QualityCutoffNotMet
		_, err := s.store.UpsertMovie(ctx, &model.Movie{
			ConnectorID:         conn.ID,
			UpstreamID:          mr.ID,
			Title:               mr.Title,
			HasFile:             mr.HasFile,
			Monitored:           mr.Monitored,
			QualityCutoffNotMet: cutoffNotMet,
		})
		if err != nil {
			return err
		}
		keep = append(keep, mr.ID)
		res.ItemsSynced++
	}
	if mode == ModeFullRecon {
		return s.pruneVanished(ctx, conn, nil, nil, keep, res)
	}
	return nil
}

func (s *Syncer) pruneVanished(ctx context.Context, conn *model.Connector, keepSeries, keepEpisodes, keepMovies []int64, res *Result) error {
	pruned, err := s.store.PruneVanishedCatalog(ctx, conn.ID, keepSeries, keepEpisodes, keepMovies)
	if err != nil {
		return err
	}
	res.ItemsPruned = pruned
	// Registries reference catalog rows polymorphically, so the prune cannot
	// cascade them through foreign keys.
	if _, err := s.store.DeleteOrphanedRegistries(ctx); err != nil {
		return err
	}
	return nil
}

func (s *Syncer) discoverEpisodeGaps(ctx context.Context, client arr.ClientInterface, conn *model.Connector, res *Result) error {
	return s.walkWanted(ctx, client, conn, arr.WantedMissing, res, func(ctx context.Context, rec *arr.WantedRecord) error {
		if !rec.Monitored {
			return nil
		}
		localID, err := s.store.EpisodeIDByUpstream(ctx, conn.ID, rec.ID)
		if err != nil {
			// Not mirrored yet; the next sweep picks it up.
			return nil
		}
		res.GapsFound++
		created, err := s.store.UpsertRegistry(ctx, conn.ID, model.ContentEpisode, localID, model.SearchGap)
		if err != nil {
			return err
		}
		if created {
			res.RegistriesCreated++
		}
		return nil
	})
}

func (s *Syncer) discoverEpisodeUpgrades(ctx context.Context, client arr.ClientInterface, conn *model.Connector, res *Result) error {
	return s.walkWanted(ctx, client, conn, arr.WantedCutoff, res, func(ctx context.Context, rec *arr.WantedRecord) error {
		if err := s.store.SetEpisodeCutoffNotMet(ctx, conn.ID, rec.ID, true); err != nil {
			return err
		}
		if !rec.Monitored {
			return nil
		}
		localID, err := s.store.EpisodeIDByUpstream(ctx, conn.ID, rec.ID)
		if err != nil {
			return nil
		}
		res.UpgradesFound++
		created, err := s.store.UpsertRegistry(ctx, conn.ID, model.ContentEpisode, localID, model.SearchUpgrade)
		if err != nil {
			return err
		}
		if created {
			res.RegistriesCreated++
		}
		return nil
	})
}

func (s *Syncer) walkWanted(ctx context.Context, client arr.ClientInterface, conn *model.Connector, kind arr.WantedKind, res *Result, visit func(context.Context, *arr.WantedRecord) error) error {
	pager := arr.NewPager(client, kind, arr.DefaultPageSize)
	for {
		records, err := pager.Next(ctx)
		if err != nil {
			return err
		}
		if records == nil {
			res.RecordsSkipped += pager.Skipped()
			return nil
		}
		for i := range records {
			if err := visit(ctx, &records[i]); err != nil {
				return err
			}
		}
	}
}

func (s *Syncer) discoverMovieGaps(ctx context.Context, conn *model.Connector, res *Result) error {
	gaps, err := s.store.MovieGaps(ctx, conn.ID)
	if err != nil {
		return err
	}
	for _, m := range gaps {
		res.GapsFound++
		created, err := s.store.UpsertRegistry(ctx, conn.ID, model.ContentMovie, m.ID, model.SearchGap)
		if err != nil {
			return err
		}
		if created {
			res.RegistriesCreated++
		}
	}
	return nil
}

func (s *Syncer) discoverMovieUpgrades(ctx context.Context, conn *model.Connector, res *Result) error {
	upgrades, err := s.store.MovieUpgrades(ctx, conn.ID)
	if err != nil {
		return err
	}
	for _, m := range upgrades {
		res.UpgradesFound++
		created, err := s.store.UpsertRegistry(ctx, conn.ID, model.ContentMovie, m.ID, model.SearchUpgrade)
		if err != nil {
			return err
		}
		if created {
			res.RegistriesCreated++
		}
	}
	return nil
}

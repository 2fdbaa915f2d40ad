package arr

import "time"

// SystemStatus is the subset of /api/v3/system/status the engine reads.
type SystemStatus struct {
	AppName string `json:"appName"`
	Version string `json:"version"`
}

// HealthItem is one entry of /api/v3/health.
type HealthItem struct {
	Source  string `json:"source"`
	Type    string `json:"type"` // "ok", "notice", "warning", "error"
	Message string `json:"message"`
}

// SeriesResource mirrors the fields of /api/v3/series the engine keeps.
type SeriesResource struct {
	ID        int64            `json:"id"`
	Title     string           `json:"title"`
	Monitored bool             `json:"monitored"`
	Seasons   []SeasonResource `json:"seasons,omitempty"`
}

// SeasonResource is one season entry of a series payload.
type SeasonResource struct {
	SeasonNumber int  `json:"seasonNumber"`
	Monitored    bool `json:"monitored"`
}

// EpisodeResource mirrors /api/v3/episode entries.
type EpisodeResource struct {
	ID            int64  `json:"id"`
	SeriesID      int64  `json:"seriesId"`
	SeasonNumber  int    `json:"seasonNumber"`
	EpisodeNumber int    `json:"episodeNumber"`
	Title         string `json:"title"`
	HasFile       bool   `json:"hasFile"`
	Monitored     bool   `json:"monitored"`
}

// MovieResource mirrors /api/v3/movie entries.
type MovieResource struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	HasFile   bool   `json:"hasFile"`
	Monitored bool   `json:"monitored"`
	MovieFile *struct {
		QualityCutoffNotMet bool `json:"qualityCutoffNotMet"`
	} `json:"movieFile,omitempty"`
}

// WantedRecord is one record of a wanted-missing or wanted-cutoff page. The
// same shape serves episodes and movies; unused fields stay zero.
type WantedRecord struct {
	ID            int64  `json:"id"`
	SeriesID      int64  `json:"seriesId,omitempty"`
	SeasonNumber  int    `json:"seasonNumber,omitempty"`
	EpisodeNumber int    `json:"episodeNumber,omitempty"`
	Title         string `json:"title"`
	Monitored     bool   `json:"monitored"`
}

// WantedPage is one page of a paginated wanted listing.
type WantedPage struct {
	Page         int            `json:"page"`
	PageSize     int            `json:"pageSize"`
	TotalRecords int            `json:"totalRecords"`
	Records      []WantedRecord `json:"records"`
	// Skipped counts individually malformed records dropped by the lenient
	// parser. One bad record cannot stop sync.
	Skipped int `json:"-"`
}

// CommandName selects the upstream search command.
type CommandName string

const (
	CommandEpisodeSearch CommandName = "EpisodeSearch"
	CommandSeasonSearch  CommandName = "SeasonSearch"
	CommandMoviesSearch  CommandName = "MoviesSearch"
)

// CommandResource is the upstream's view of a dispatched command.
type CommandResource struct {
	ID      int64     `json:"id"`
	Name    string    `json:"name"`
	Status  string    `json:"status"`            // queued, started, completed, failed, aborted
	Message string    `json:"message,omitempty"` // free-form progress text
	Queued  time.Time `json:"queued"`
	Started time.Time `json:"started,omitempty"`
	Ended   time.Time `json:"ended,omitempty"`
}

package arr

import "context"

// ClientInterface is the full client surface the engine consumes. Extracted
// so sync, queue and reconnect tests can substitute fakes.
type ClientInterface interface {
	Ping(ctx context.Context) error
	SystemStatus(ctx context.Context) (*SystemStatus, error)
	Health(ctx context.Context) ([]HealthItem, error)
	Series(ctx context.Context) ([]SeriesResource, error)
	Episodes(ctx context.Context, seriesID int64) ([]EpisodeResource, error)
	Movies(ctx context.Context) ([]MovieResource, error)
	WantedMissing(ctx context.Context, page, pageSize int) (*WantedPage, error)
	WantedCutoff(ctx context.Context, page, pageSize int) (*WantedPage, error)
	DispatchSearch(ctx context.Context, name CommandName, ids []int64) (int64, error)
	CommandStatus(ctx context.Context, id int64) (*CommandResource, error)
}

var _ ClientInterface = (*Client)(nil)

// Factory builds a client for a connector base URL and decrypted API key.
// The daemon installs a caching factory; tests install fakes.
type Factory func(base, apiKey string) ClientInterface

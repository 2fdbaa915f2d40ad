package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fetcharr/fetcharr/internal/analytics"
	"github.com/fetcharr/fetcharr/internal/arr"
	"github.com/fetcharr/fetcharr/internal/model"
	"github.com/fetcharr/fetcharr/internal/throttle"
)

type fakeStore struct {
	connectors []model.Connector
	batch      []model.Registry

	reverted      []int64
	dispatched    []int64
	failed        []int64
	promoted      []int64
	history       []string
	orphansBefore time.Time
	orphanCount   int
	backlogCount  int
	failState     model.RegistryState
}

func (f *fakeStore) HealthyConnectors(ctx context.Context) ([]model.Connector, error) {
	return f.connectors, nil
}

func (f *fakeStore) ReenqueueEligibleCooldown(ctx context.Context, connectorID int64, now time.Time) (int, error) {
	return 0, nil
}

func (f *fakeStore) ClaimBatch(ctx context.Context, connectorID int64, limit int) ([]model.Registry, error) {
	if limit < len(f.batch) {
		return f.batch[:limit], nil
	}
	return f.batch, nil
}

func (f *fakeStore) RevertToQueued(ctx context.Context, ids []int64) error {
	f.reverted = append(f.reverted, ids...)
	return nil
}

func (f *fakeStore) MarkDispatched(ctx context.Context, id int64) error {
	f.dispatched = append(f.dispatched, id)
	return nil
}

func (f *fakeStore) FailToCooldown(ctx context.Context, id int64, nextEligibleAt time.Time, maxAttempts int) (model.RegistryState, error) {
	f.failed = append(f.failed, id)
	if f.failState != "" {
		return f.failState, nil
	}
	return model.StateCooldown, nil
}

func (f *fakeStore) PromoteBacklogTier(ctx context.Context, id int64) error {
	f.promoted = append(f.promoted, id)
	return nil
}

func (f *fakeStore) RecoverOrphanedSearches(ctx context.Context, staleBefore time.Time) (int, error) {
	f.orphansBefore = staleBefore
	return f.orphanCount, nil
}

func (f *fakeStore) RecoverBacklog(ctx context.Context, tierDelays map[int]time.Duration, now time.Time) (int, error) {
	return f.backlogCount, nil
}

func (f *fakeStore) EpisodeUpstreamID(ctx context.Context, id int64) (int64, error) {
	return id + 1000, nil
}

func (f *fakeStore) MovieUpstreamID(ctx context.Context, id int64) (int64, error) {
	return id + 2000, nil
}

func (f *fakeStore) InsertPendingCommand(ctx context.Context, c *model.PendingCommand) error {
	c.ID = int64(len(f.dispatched))
	return nil
}

func (f *fakeStore) InsertSearchHistory(ctx context.Context, connectorID int64, contentType, searchType, outcome string, contentID int64, durationMs int) error {
	f.history = append(f.history, outcome)
	return nil
}

type fakeThrottle struct {
	profile   model.ThrottleProfile
	decisions []throttle.Decision
	consumed  int
	paused    []model.PauseReason
	pausedAt  []time.Time
}

func (f *fakeThrottle) ResolveProfile(ctx context.Context, conn *model.Connector) (*model.ThrottleProfile, error) {
	p := f.profile
	return &p, nil
}

func (f *fakeThrottle) TryConsume(ctx context.Context, conn *model.Connector, profile *model.ThrottleProfile) (throttle.Decision, error) {
	if f.consumed < len(f.decisions) {
		d := f.decisions[f.consumed]
		f.consumed++
		return d, nil
	}
	f.consumed++
	return throttle.Decision{Allowed: true}, nil
}

func (f *fakeThrottle) SetPause(ctx context.Context, connectorID int64, until time.Time, reason model.PauseReason) error {
	f.paused = append(f.paused, reason)
	f.pausedAt = append(f.pausedAt, until)
	return nil
}

type fakeRecorder struct {
	events []analytics.Event
}

func (f *fakeRecorder) Record(ctx context.Context, connectorID int64, ev analytics.Event) {
	f.events = append(f.events, ev)
}

type fakeClient struct {
	arr.ClientInterface

	errs      []error
	commands  []int64
	calls     int
	dispatchs []arr.CommandName
}

func (f *fakeClient) DispatchSearch(ctx context.Context, name arr.CommandName, ids []int64) (int64, error) {
	i := f.calls
	f.calls++
	f.dispatchs = append(f.dispatchs, name)
	if i < len(f.errs) && f.errs[i] != nil {
		return 0, f.errs[i]
	}
	if i < len(f.commands) {
		return f.commands[i], nil
	}
	return int64(100 + i), nil
}

func registry(id int64, ct model.ContentType, st model.SearchType) model.Registry {
	return model.Registry{ID: id, ConnectorID: 1, ContentType: ct, ContentID: id * 10, SearchType: st, State: model.StateSearching}
}

func newTestEngine(st *fakeStore, th *fakeThrottle, client *fakeClient) (*Engine, *fakeRecorder) {
	rec := &fakeRecorder{}
	resolver := func(ctx context.Context, conn *model.Connector) (arr.ClientInterface, error) {
		return client, nil
	}
	eng := New(st, th, rec, resolver, DefaultConfig(), func() time.Time {
		return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	})
	return eng, rec
}

func TestProcessConnectorDispatchesFullBatch(t *testing.T) {
	st := &fakeStore{batch: []model.Registry{
		registry(1, model.ContentEpisode, model.SearchGap),
		registry(2, model.ContentMovie, model.SearchGap),
	}}
	th := &fakeThrottle{profile: model.ThrottleProfile{BatchSize: 5, RequestsPerMinute: 10}}
	client := &fakeClient{commands: []int64{11, 12}}
	eng, rec := newTestEngine(st, th, client)

	conn := model.Connector{ID: 1, Type: model.ConnectorSeries}
	require.NoError(t, eng.ProcessConnector(context.Background(), &conn))

	assert.Equal(t, []int64{1, 2}, st.dispatched)
	assert.Empty(t, st.reverted)
	assert.Equal(t, []arr.CommandName{arr.CommandEpisodeSearch, arr.CommandMoviesSearch}, client.dispatchs)
	assert.Equal(t, []string{"dispatched", "dispatched"}, st.history)
	require.Len(t, rec.events, 2)
	ev, ok := rec.events[0].(analytics.SearchDispatched)
	require.True(t, ok)
	assert.Equal(t, int64(11), ev.CommandID)
}

// A mid-batch upstream 429 pauses the connector and requeues the current
// item and the remainder; nothing is lost and nothing double-dispatches.
func TestProcessConnectorUpstreamRateLimitMidBatch(t *testing.T) {
	st := &fakeStore{batch: []model.Registry{
		registry(1, model.ContentEpisode, model.SearchGap),
		registry(2, model.ContentEpisode, model.SearchGap),
		registry(3, model.ContentEpisode, model.SearchGap),
	}}
	th := &fakeThrottle{profile: model.ThrottleProfile{BatchSize: 5, RequestsPerMinute: 10}}
	rateLimited := &arr.Error{
		Sentinel:   arr.ErrRateLimited,
		Category:   arr.CategoryRateLimit,
		StatusCode: 429,
		RetryAfter: 90 * time.Second,
	}
	client := &fakeClient{errs: []error{nil, rateLimited}}
	eng, _ := newTestEngine(st, th, client)

	conn := model.Connector{ID: 1, Type: model.ConnectorSeries}
	require.NoError(t, eng.ProcessConnector(context.Background(), &conn))

	assert.Equal(t, []int64{1}, st.dispatched)
	assert.Equal(t, []int64{2, 3}, st.reverted)
	require.Equal(t, []model.PauseReason{model.PauseRateLimit}, th.paused)
	// Retry-After drives the pause horizon.
	assert.Equal(t, 90*time.Second, th.pausedAt[0].Sub(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))
	assert.Empty(t, st.failed, "a rate-limited item must not burn an attempt")
}

// A throttle denial mid-batch requeues the unconsumed remainder.
func TestProcessConnectorThrottleDeniedMidBatch(t *testing.T) {
	st := &fakeStore{batch: []model.Registry{
		registry(1, model.ContentMovie, model.SearchGap),
		registry(2, model.ContentMovie, model.SearchGap),
		registry(3, model.ContentMovie, model.SearchUpgrade),
	}}
	th := &fakeThrottle{
		profile: model.ThrottleProfile{BatchSize: 5, RequestsPerMinute: 1},
		decisions: []throttle.Decision{
			{Allowed: true},
			{Allowed: false, Reason: model.PauseRateLimit},
		},
	}
	client := &fakeClient{}
	eng, _ := newTestEngine(st, th, client)

	conn := model.Connector{ID: 1, Type: model.ConnectorMovie}
	require.NoError(t, eng.ProcessConnector(context.Background(), &conn))

	assert.Equal(t, []int64{1}, st.dispatched)
	assert.Equal(t, []int64{2, 3}, st.reverted)
	assert.Equal(t, 1, client.calls)
}

// A non-retryable dispatch failure moves the row to cooldown and the batch
// continues with the next row.
func TestProcessConnectorFailureGoesToCooldownAndContinues(t *testing.T) {
	st := &fakeStore{batch: []model.Registry{
		registry(1, model.ContentEpisode, model.SearchGap),
		registry(2, model.ContentEpisode, model.SearchGap),
	}}
	th := &fakeThrottle{profile: model.ThrottleProfile{BatchSize: 5}}
	serverErr := &arr.Error{Sentinel: arr.ErrServer, Category: arr.CategoryServer, StatusCode: 503}
	client := &fakeClient{errs: []error{serverErr, nil}}
	eng, rec := newTestEngine(st, th, client)

	conn := model.Connector{ID: 1, Type: model.ConnectorSeries}
	require.NoError(t, eng.ProcessConnector(context.Background(), &conn))

	assert.Equal(t, []int64{1}, st.failed)
	assert.Equal(t, []int64{2}, st.dispatched)
	assert.Empty(t, st.reverted)

	var failedEv *analytics.SearchFailed
	for _, ev := range rec.events {
		if f, ok := ev.(analytics.SearchFailed); ok {
			failedEv = &f
		}
	}
	require.NotNil(t, failedEv)
	assert.Equal(t, "server", failedEv.Category)
}

// Exhaustion of a row already recovered into a backlog tier bumps it to the
// next tier.
func TestFailurePromotesBacklogTierOnReexhaustion(t *testing.T) {
	reg := registry(7, model.ContentMovie, model.SearchGap)
	reg.BacklogTier = 1
	reg.AttemptCount = 9
	st := &fakeStore{batch: []model.Registry{reg}, failState: model.StateExhausted}
	th := &fakeThrottle{profile: model.ThrottleProfile{BatchSize: 5}}
	client := &fakeClient{errs: []error{&arr.Error{Sentinel: arr.ErrServer, Category: arr.CategoryServer}}}
	eng, _ := newTestEngine(st, th, client)

	conn := model.Connector{ID: 1, Type: model.ConnectorMovie}
	require.NoError(t, eng.ProcessConnector(context.Background(), &conn))

	assert.Equal(t, []int64{7}, st.failed)
	assert.Equal(t, []int64{7}, st.promoted)
}

// A fresh exhaustion at tier zero is left for backlog recovery; no tier
// promotion happens inline.
func TestFailureDoesNotPromoteFreshExhaustion(t *testing.T) {
	reg := registry(8, model.ContentMovie, model.SearchGap)
	reg.AttemptCount = 9
	st := &fakeStore{batch: []model.Registry{reg}, failState: model.StateExhausted}
	th := &fakeThrottle{profile: model.ThrottleProfile{BatchSize: 5}}
	client := &fakeClient{errs: []error{&arr.Error{Sentinel: arr.ErrServer, Category: arr.CategoryServer}}}
	eng, _ := newTestEngine(st, th, client)

	conn := model.Connector{ID: 1, Type: model.ConnectorMovie}
	require.NoError(t, eng.ProcessConnector(context.Background(), &conn))

	assert.Empty(t, st.promoted)
}

// ProcessAll reverts rows stuck in searching past the stale horizon before
// claiming anything new.
func TestProcessAllRecoversOrphans(t *testing.T) {
	st := &fakeStore{orphanCount: 4}
	th := &fakeThrottle{profile: model.ThrottleProfile{BatchSize: 5}}
	eng, _ := newTestEngine(st, th, &fakeClient{})

	require.NoError(t, eng.ProcessAll(context.Background()))

	want := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Add(-10 * time.Minute)
	assert.Equal(t, want, st.orphansBefore)
}

func TestPauseHorizonFallsBackWithoutRetryAfter(t *testing.T) {
	eng, _ := newTestEngine(&fakeStore{}, &fakeThrottle{}, &fakeClient{})
	horizon := eng.pauseHorizon(errors.New("plain"))
	assert.Equal(t, time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC), horizon)
}

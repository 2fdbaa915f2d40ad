package reconnect

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fetcharr/fetcharr/internal/arr"
	"github.com/fetcharr/fetcharr/internal/model"
)

type fakeStore struct {
	due        []model.SyncState
	connectors map[int64]*model.Connector

	health   map[int64]model.HealthStatus
	failures []time.Time
	resets   []int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		connectors: map[int64]*model.Connector{},
		health:     map[int64]model.HealthStatus{},
	}
}

func (f *fakeStore) DueReconnects(ctx context.Context, now time.Time) ([]model.SyncState, error) {
	return f.due, nil
}

func (f *fakeStore) Connector(ctx context.Context, id int64) (*model.Connector, error) {
	c, ok := f.connectors[id]
	if !ok {
		return nil, errors.New("connector not found")
	}
	return c, nil
}

func (f *fakeStore) BeginReconnect(ctx context.Context, connectorID int64, firstAttemptAt time.Time) error {
	return nil
}

func (f *fakeStore) RecordReconnectFailure(ctx context.Context, connectorID int64, nextAt time.Time, lastError string) error {
	f.failures = append(f.failures, nextAt)
	return nil
}

func (f *fakeStore) ResetReconnect(ctx context.Context, connectorID int64) error {
	f.resets = append(f.resets, connectorID)
	return nil
}

func (f *fakeStore) PauseReconnect(ctx context.Context, connectorID int64) error { return nil }

func (f *fakeStore) ResumeReconnect(ctx context.Context, connectorID int64, nextAt time.Time) error {
	return nil
}

func (f *fakeStore) UpdateConnectorHealth(ctx context.Context, id int64, status model.HealthStatus) error {
	f.health[id] = status
	return nil
}

type fakeClient struct {
	arr.ClientInterface

	pingErr error
	items   []arr.HealthItem
}

func (f *fakeClient) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeClient) Health(ctx context.Context) ([]arr.HealthItem, error) {
	return f.items, nil
}

func newTestController(st *fakeStore, client *fakeClient) *Controller {
	resolver := func(ctx context.Context, conn *model.Connector) (arr.ClientInterface, error) {
		return client, nil
	}
	return New(st, resolver, DefaultConfig(), func() time.Time {
		return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	})
}

func TestProcessDueRecoversConnector(t *testing.T) {
	st := newFakeStore()
	st.connectors[1] = &model.Connector{ID: 1, Type: model.ConnectorSeries, HealthStatus: model.HealthOffline}
	st.due = []model.SyncState{{ConnectorID: 1, ReconnectAttempts: 3}}
	ctrl := newTestController(st, &fakeClient{})

	require.NoError(t, ctrl.ProcessDue(context.Background()))

	assert.Equal(t, model.HealthHealthy, st.health[1])
	assert.Equal(t, []int64{1}, st.resets)
	assert.Empty(t, st.failures)
}

func TestProcessDueDegradedWhenHealthWarns(t *testing.T) {
	st := newFakeStore()
	st.connectors[1] = &model.Connector{ID: 1, HealthStatus: model.HealthOffline}
	st.due = []model.SyncState{{ConnectorID: 1}}
	ctrl := newTestController(st, &fakeClient{
		items: []arr.HealthItem{{Type: "warning", Message: "indexer unreachable"}},
	})

	require.NoError(t, ctrl.ProcessDue(context.Background()))

	assert.Equal(t, model.HealthDegraded, st.health[1])
	assert.Equal(t, []int64{1}, st.resets)
}

// The probe horizon never moves closer across consecutive failures, even
// though the backoff is jittered.
func TestFailureBackoffIsMonotonic(t *testing.T) {
	st := newFakeStore()
	st.connectors[1] = &model.Connector{ID: 1, HealthStatus: model.HealthOffline}
	ctrl := newTestController(st, &fakeClient{pingErr: errors.New("connection refused")})

	prev := time.Time{}
	for attempts := 0; attempts < 8; attempts++ {
		state := model.SyncState{ConnectorID: 1, ReconnectAttempts: attempts}
		if !prev.IsZero() {
			state.NextReconnectAt = sql.NullTime{Time: prev, Valid: true}
		}
		st.due = []model.SyncState{state}
		require.NoError(t, ctrl.ProcessDue(context.Background()))
		next := st.failures[len(st.failures)-1]
		if !prev.IsZero() {
			assert.False(t, next.Before(prev), "attempt %d scheduled before previous horizon", attempts)
		}
		prev = next
	}
	assert.Empty(t, st.resets)
}

func TestFailureBackoffCapped(t *testing.T) {
	st := newFakeStore()
	st.connectors[1] = &model.Connector{ID: 1, HealthStatus: model.HealthOffline}
	st.due = []model.SyncState{{ConnectorID: 1, ReconnectAttempts: 50}}
	ctrl := newTestController(st, &fakeClient{pingErr: errors.New("down")})

	require.NoError(t, ctrl.ProcessDue(context.Background()))

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	// Cap one hour, jitter at most +25%.
	assert.LessOrEqual(t, st.failures[0].Sub(now), 75*time.Minute)
}

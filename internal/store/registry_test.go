package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fetcharr/fetcharr/internal/model"
)

var registryColumns = []string{
	"id", "connector_id", "content_type", "content_id", "search_type",
	"state", "attempt_count", "next_eligible_at", "backlog_tier",
	"created_at", "updated_at",
}

func registryRow(rows *sqlmock.Rows, id int64, searchType string, now time.Time) *sqlmock.Rows {
	return rows.AddRow(id, 5, "episode", id*100, searchType, "searching", 0, nil, 0, now, now)
}

func TestClaimBatchRestoresPriorityOrder(t *testing.T) {
	st, mock := newMock(t)
	now := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`ROW_NUMBER`).
		WithArgs(int64(5), 3).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11).AddRow(12).AddRow(13))
	// RETURNING hands rows back in arbitrary order; the claim re-sorts them.
	returned := sqlmock.NewRows(registryColumns)
	registryRow(returned, 13, "upgrade", now)
	registryRow(returned, 11, "gap", now)
	registryRow(returned, 12, "gap", now)
	mock.ExpectQuery(`SET state = 'searching'`).
		WithArgs(int64(11), int64(12), int64(13)).
		WillReturnRows(returned)
	mock.ExpectCommit()

	claimed, err := st.ClaimBatch(context.Background(), 5, 3)
	require.NoError(t, err)
	ids := make([]int64, len(claimed))
	for i, r := range claimed {
		ids[i] = r.ID
	}
	assert.Equal(t, []int64{11, 12, 13}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimBatchEmptyQueue(t *testing.T) {
	st, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`ROW_NUMBER`).
		WithArgs(int64(5), 10).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	claimed, err := st.ClaimBatch(context.Background(), 5, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkDispatchedLeavesAttemptCountAlone(t *testing.T) {
	st, mock := newMock(t)

	// Success returns the row to pending; attempt_count tracks failures
	// only, so the cooldown ladder still starts at the first real failure.
	mock.ExpectExec(`SET state = 'pending', updated_at = now\(\)`).
		WithArgs(int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, st.MarkDispatched(context.Background(), 42))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFailToCooldownReturnsResultingState(t *testing.T) {
	st, mock := newMock(t)
	next := time.Date(2026, 3, 14, 11, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`RETURNING state`).
		WithArgs(int64(42), next, 10).
		WillReturnRows(sqlmock.NewRows([]string{"state"}).AddRow("exhausted"))

	state, err := st.FailToCooldown(context.Background(), 42, next, 10)
	require.NoError(t, err)
	assert.Equal(t, model.StateExhausted, state)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevertToQueuedEmptyIsNoop(t *testing.T) {
	st, mock := newMock(t)

	require.NoError(t, st.RevertToQueued(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReenqueueEligibleCooldown(t *testing.T) {
	st, mock := newMock(t)
	now := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)

	mock.ExpectExec(`state = 'cooldown' AND next_eligible_at <= \$2`).
		WithArgs(int64(5), now).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := st.ReenqueueEligibleCooldown(context.Background(), 5, now)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecoverBacklogFloorsTierAndSchedules(t *testing.T) {
	st, mock := newMock(t)
	now := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)

	exhausted := sqlmock.NewRows(registryColumns).
		AddRow(9, 5, "movie", 900, "gap", "exhausted", 10, nil, 0, now, now).
		AddRow(10, 5, "movie", 1000, "gap", "exhausted", 10, nil, 2, now, now)

	mock.ExpectBegin()
	mock.ExpectQuery(`state = 'exhausted' FOR UPDATE`).
		WillReturnRows(exhausted)
	// Tier 0 is floored to 1 before the delay lookup.
	mock.ExpectExec(`SET state = 'cooldown'`).
		WithArgs(int64(9), 1, now.Add(7*24*time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SET state = 'cooldown'`).
		WithArgs(int64(10), 2, now.Add(30*24*time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	n, err := st.RecoverBacklog(context.Background(), map[int]time.Duration{
		1: 7 * 24 * time.Hour,
		2: 30 * 24 * time.Hour,
	}, now)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fetcharr/fetcharr/internal/model"
	"github.com/fetcharr/fetcharr/internal/timeutil"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(sqlx.NewDb(db, "sqlmock")), mock
}

var throttleColumns = []string{
	"connector_id", "requests_this_minute", "requests_today",
	"minute_window_start", "day_window_start",
	"paused_until", "pause_reason", "last_request_at",
}

func TestTryConsumeThrottleAllowsAndIncrements(t *testing.T) {
	st, mock := newMock(t)
	now := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	minuteStart := now.Add(-10 * time.Second)
	dayStart := timeutil.StartOfDay(now)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM throttle_state WHERE connector_id = \$1 FOR UPDATE`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(throttleColumns).
			AddRow(7, 2, 10, minuteStart, dayStart, nil, nil, nil))
	mock.ExpectExec(`last_request_at = \$6`).
		WithArgs(int64(7), 3, 11, minuteStart, dayStart, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	dec, err := st.TryConsumeThrottle(context.Background(), 7,
		ThrottleLimits{RequestsPerMinute: 5, RateLimitPauseSeconds: 300}, now)
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTryConsumeThrottleActivePauseShortCircuits(t *testing.T) {
	st, mock := newMock(t)
	now := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	until := now.Add(4 * time.Minute)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(throttleColumns).
			AddRow(7, 5, 40, now.Add(-30*time.Second), timeutil.StartOfDay(now), until, "rate_limit", nil))
	mock.ExpectCommit()

	dec, err := st.TryConsumeThrottle(context.Background(), 7,
		ThrottleLimits{RequestsPerMinute: 5, RateLimitPauseSeconds: 300}, now)
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, model.PauseRateLimit, dec.Reason)
	assert.Equal(t, until, dec.PausedUntil)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTryConsumeThrottleDailyBudgetPausesUntilMidnight(t *testing.T) {
	st, mock := newMock(t)
	now := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	minuteStart := now.Add(-10 * time.Second)
	dayStart := timeutil.StartOfDay(now)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(throttleColumns).
			AddRow(7, 1, 100, minuteStart, dayStart, nil, nil, nil))
	mock.ExpectExec(`pause_reason = \$7`).
		WithArgs(int64(7), 1, 100, minuteStart, dayStart,
			timeutil.NextMidnight(now), string(model.PauseDailyBudget)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	dec, err := st.TryConsumeThrottle(context.Background(), 7,
		ThrottleLimits{RequestsPerMinute: 5, DailyBudget: 100, RateLimitPauseSeconds: 300}, now)
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, model.PauseDailyBudget, dec.Reason)
	assert.Equal(t, timeutil.NextMidnight(now), dec.PausedUntil)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTryConsumeThrottleMinuteLimitPauses(t *testing.T) {
	st, mock := newMock(t)
	now := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	minuteStart := now.Add(-10 * time.Second)
	dayStart := timeutil.StartOfDay(now)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(throttleColumns).
			AddRow(7, 5, 40, minuteStart, dayStart, nil, nil, nil))
	mock.ExpectExec(`pause_reason = \$7`).
		WithArgs(int64(7), 5, 40, minuteStart, dayStart,
			now.Add(300*time.Second), string(model.PauseRateLimit)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	dec, err := st.TryConsumeThrottle(context.Background(), 7,
		ThrottleLimits{RequestsPerMinute: 5, RateLimitPauseSeconds: 300}, now)
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, model.PauseRateLimit, dec.Reason)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTryConsumeThrottleExpiredWindowsRollForward(t *testing.T) {
	st, mock := newMock(t)
	now := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	staleMinute := now.Add(-2 * time.Minute)
	staleDay := timeutil.StartOfDay(now.Add(-24 * time.Hour))

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(throttleColumns).
			AddRow(7, 5, 100, staleMinute, staleDay, nil, nil, nil))
	// Both counters restart, so the consumption lands at 1/1.
	mock.ExpectExec(`last_request_at = \$6`).
		WithArgs(int64(7), 1, 1, now, timeutil.StartOfDay(now), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	dec, err := st.TryConsumeThrottle(context.Background(), 7,
		ThrottleLimits{RequestsPerMinute: 5, DailyBudget: 100, RateLimitPauseSeconds: 300}, now)
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTryConsumeThrottleSeedsMissingRow(t *testing.T) {
	st, mock := newMock(t)
	now := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs(int64(9)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`INSERT INTO throttle_state`).
		WithArgs(int64(9), now, timeutil.StartOfDay(now)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`last_request_at = \$6`).
		WithArgs(int64(9), 1, 1, now, timeutil.StartOfDay(now), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	dec, err := st.TryConsumeThrottle(context.Background(), 9,
		ThrottleLimits{RequestsPerMinute: 5, RateLimitPauseSeconds: 300}, now)
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResetExpiredThrottleWindows(t *testing.T) {
	st, mock := newMock(t)
	now := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`INTERVAL '60 seconds'`).
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`day_window_start < \$1`).
		WithArgs(timeutil.StartOfDay(now)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`paused_until IS NOT NULL AND paused_until < \$1`).
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	counts, err := st.ResetExpiredThrottleWindows(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, ResetCounts{MinuteResets: 2, DayResets: 1, PausesCleared: 3}, counts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

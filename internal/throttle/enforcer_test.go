package throttle

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fetcharr/fetcharr/internal/model"
	"github.com/fetcharr/fetcharr/internal/store"
)

func newEnforcer(t *testing.T) (*Enforcer, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(store.New(sqlx.NewDb(db, "sqlmock")), nil), mock
}

var profileColumns = []string{
	"id", "name", "requests_per_minute", "daily_budget",
	"batch_size", "batch_cooldown_seconds", "rate_limit_pause_seconds", "is_default",
}

func profileRow(id int64, name string, isDefault bool) *sqlmock.Rows {
	return sqlmock.NewRows(profileColumns).
		AddRow(id, name, 10, 200, 5, 30, 300, isDefault)
}

func TestResolveProfileUsesAssigned(t *testing.T) {
	e, mock := newEnforcer(t)
	conn := model.Connector{ID: 1, ThrottleProfileID: sql.NullInt64{Int64: 7, Valid: true}}

	mock.ExpectQuery(`FROM throttle_profiles WHERE id = \$1`).
		WithArgs(int64(7)).
		WillReturnRows(profileRow(7, "aggressive", false))

	p, err := e.ResolveProfile(context.Background(), &conn)
	require.NoError(t, err)
	assert.Equal(t, "aggressive", p.Name)
	assert.Equal(t, 10, p.RequestsPerMinute)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveProfileFallsBackToDefault(t *testing.T) {
	e, mock := newEnforcer(t)
	conn := model.Connector{ID: 1, ThrottleProfileID: sql.NullInt64{Int64: 7, Valid: true}}

	// The assigned profile vanished; resolution degrades to the store
	// default instead of failing the batch.
	mock.ExpectQuery(`FROM throttle_profiles WHERE id = \$1`).
		WithArgs(int64(7)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`FROM throttle_profiles WHERE is_default`).
		WillReturnRows(profileRow(2, "standard", true))

	p, err := e.ResolveProfile(context.Background(), &conn)
	require.NoError(t, err)
	assert.Equal(t, "standard", p.Name)
	assert.True(t, p.IsDefault)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveProfileBuiltinFallback(t *testing.T) {
	e, mock := newEnforcer(t)
	conn := model.Connector{ID: 1}

	mock.ExpectQuery(`FROM throttle_profiles WHERE is_default`).
		WillReturnError(sql.ErrNoRows)

	p, err := e.ResolveProfile(context.Background(), &conn)
	require.NoError(t, err)
	assert.Equal(t, FallbackProfile.Name, p.Name)
	assert.Equal(t, FallbackProfile.RequestsPerMinute, p.RequestsPerMinute)
	assert.False(t, p.DailyBudget.Valid, "builtin preset has no daily cap")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveProfileDefaultLookupError(t *testing.T) {
	e, mock := newEnforcer(t)
	conn := model.Connector{ID: 1}

	mock.ExpectQuery(`FROM throttle_profiles WHERE is_default`).
		WillReturnError(sql.ErrConnDone)

	_, err := e.ResolveProfile(context.Background(), &conn)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

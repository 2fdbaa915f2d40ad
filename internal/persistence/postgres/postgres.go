// Package postgres owns the shared connection pool to the relational store
// and the schema migrations. Every repository in internal/store runs over
// the single pool opened here.
package postgres

import (
	"context"
	"embed"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Config defines pool parameters.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns the recommended pool configuration.
func DefaultConfig(dsn string) Config {
	return Config{
		DSN:             dsn,
		MaxOpenConns:    25,
		MaxIdleConns:    25,
		ConnMaxLifetime: time.Hour,
	}
}

// Open initializes the pgx-backed pool and verifies connectivity.
func Open(ctx context.Context, cfg Config) (*sqlx.DB, error) {
	db, err := sqlx.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: open failed: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping failed: %w", err)
	}
	return db, nil
}

// Migrate applies all pending embedded migrations.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("postgres: goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db.DB, "migrations"); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// CompactionResult reports maintenance statement durations.
type CompactionResult struct {
	VacuumDuration  time.Duration
	AnalyzeDuration time.Duration
}

// Compact issues VACUUM then ANALYZE. The plain (non-locking) VACUUM is the
// default; FULL is only used when explicitly configured because it takes an
// access-exclusive lock.
func Compact(ctx context.Context, db *sqlx.DB, full bool) (CompactionResult, error) {
	var res CompactionResult

	stmt := "VACUUM"
	if full {
		stmt = "VACUUM FULL"
	}
	start := time.Now()
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return res, fmt.Errorf("postgres: %s: %w", stmt, err)
	}
	res.VacuumDuration = time.Since(start)

	start = time.Now()
	if _, err := db.ExecContext(ctx, "ANALYZE"); err != nil {
		return res, fmt.Errorf("postgres: analyze: %w", err)
	}
	res.AnalyzeDuration = time.Since(start)
	return res, nil
}

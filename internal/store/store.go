// Package store is the repository layer over the shared PostgreSQL pool.
// One file per aggregate; all operations are context-scoped and the atomic
// primitives (counter consumption, dequeue claims) are expressed as single
// statements or explicit transactions here so the engines above stay free of
// SQL.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Store bundles every repository over one pool.
type Store struct {
	db *sqlx.DB
}

// New wraps the shared pool.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying pool for maintenance statements.
func (s *Store) DB() *sqlx.DB { return s.db }

// withTx runs fn inside a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// IsNoRows reports whether err is the empty-result sentinel.
func IsNoRows(err error) bool {
	return err == sql.ErrNoRows
}

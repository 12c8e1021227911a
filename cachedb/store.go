package cachedb

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"
)

// schema is applied on every open; statements are idempotent so repeated
// opens of the same file are safe.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS cache (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		created_at INTEGER NOT NULL,
		expires_at INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cache_expires_at ON cache(expires_at)`,
}

// store is a thin facade over the SQLite connection. It provides
// single-statement execution and scoped transactions; it guarantees nothing
// beyond the single-statement atomicity of the underlying engine, so any
// multi-statement group that must be atomic goes through transaction.
type store struct {
	db *sql.DB
}

func (s *store) execute(ctx context.Context, stmt string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, stmt, args...)
}

func (s *store) query(ctx context.Context, stmt string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, stmt, args...)
}

func (s *store) queryRow(ctx context.Context, stmt string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, stmt, args...)
}

// transaction runs fn inside a transaction, committing when fn returns nil
// and rolling back otherwise.
func (s *store) transaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "commit transaction")
}

func (s *store) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.execute(ctx, stmt); err != nil {
			return errors.Wrap(err, "apply schema")
		}
	}
	return nil
}

func (s *store) close() error {
	return s.db.Close()
}

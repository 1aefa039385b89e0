// Package dbx holds the database/sql seam the SQL-backed stores are written
// against.
package dbx

import (
	"context"
	"database/sql"
)

// DBTX is the subset of database/sql the stores use. *sql.DB, *sql.Tx and
// *sql.Conn all satisfy it.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ DBTX = (*sql.DB)(nil)
	_ DBTX = (*sql.Tx)(nil)
	_ DBTX = (*sql.Conn)(nil)
)

// Closer returns the Close method of h when h owns a connection pool, and a
// no-op otherwise, so a store handed a transaction never closes it.
func Closer(h DBTX) func() error {
	if db, ok := h.(*sql.DB); ok {
		return db.Close
	}
	return func() error { return nil }
}

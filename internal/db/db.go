// Package db owns the PostgreSQL side of the relay: the connection pool, the
// dedicated LISTEN connection that feeds notifications to the relay, and the
// trigger that emits them on every bus_position insert.
//
// Schema helpers accept a DBTX or TxBeginner so they run the same against a
// *pgxpool.Pool or a test double.
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the minimal interface shared by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxBeginner starts a transaction. *pgxpool.Pool satisfies it.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

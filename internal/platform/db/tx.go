package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type contextKey string

const txKey contextKey = "db_tx"

// Queryable is satisfied by *pgxpool.Pool, pgx.Tx, and *pgxpool.Conn. Store
// implementations accept it so a single method body works whether or not it
// is running inside a caller-managed transaction.
type Queryable interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// WithTx begins a new transaction on pool and returns a context carrying it.
// The caller must Commit or Rollback the returned transaction; use
// TxFromContext inside Store methods to retrieve it.
func WithTx(ctx context.Context, pool *pgxpool.Pool) (context.Context, pgx.Tx, error) {
	return WithTxOptions(ctx, pool, pgx.TxOptions{})
}

// WithTxOptions begins a transaction with the given options (e.g. a
// SERIALIZABLE isolation level) and returns a context carrying it.
func WithTxOptions(ctx context.Context, pool *pgxpool.Pool, opts pgx.TxOptions) (context.Context, pgx.Tx, error) {
	tx, err := pool.BeginTx(ctx, opts)
	if err != nil {
		return ctx, nil, err
	}
	return context.WithValue(ctx, txKey, tx), tx, nil
}

// TxFromContext retrieves the active transaction from context, if any.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey).(pgx.Tx)
	return tx
}

// Conn resolves the Queryable to use for this call: the in-flight
// transaction from context if one was started with WithTx, otherwise the
// pool itself (which transparently acquires/releases a connection per
// call).
func Conn(ctx context.Context, pool *pgxpool.Pool) Queryable {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

// Package database provides the pooled Postgres connection shared by the
// postgres cache backend, the queue backend, and the source DB executor.
package database

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MPoppinga/partitioncache/internal/errutil"
)

type Pool struct {
	pool *pgxpool.Pool
}

func NewPoolFromURL(ctx context.Context, url string) (*Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, errutil.Wrap("parse pool config", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errutil.Wrap("create connection pool", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errutil.Wrap("ping database", err)
	}

	return &Pool{pool: pool}, nil
}

func (p *Pool) Close() {
	p.pool.Close()
}

func (p *Pool) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return p.pool.Query(ctx, sql, args...) //nolint:wrapcheck
}

func (p *Pool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return p.pool.QueryRow(ctx, sql, args...)
}

func (p *Pool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	tag, err := p.pool.Exec(ctx, sql, args...)
	if err != nil {
		return tag, errutil.Wrap("exec", err)
	}

	return tag, nil
}

// Acquire checks out a single connection for operations that must run on
// one session, e.g. advisory locks (whose lock is session-scoped).
func (p *Pool) Acquire(ctx context.Context) (*pgxpool.Conn, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, errutil.Wrap("acquire connection", err)
	}

	return conn, nil
}

package database

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/MPoppinga/partitioncache/internal/errutil"
)

type QueryHelper struct {
	pool *Pool
}

func NewQueryHelper(pool *Pool) *QueryHelper {
	return &QueryHelper{pool: pool}
}

func (qh *QueryHelper) FetchAll(
	ctx context.Context,
	query string,
	scanFunc func(pgx.Rows) error,
	args ...any,
) error {
	rows, err := qh.pool.Query(ctx, query, args...)
	if err != nil {
		return errutil.Wrap("execute query", err)
	}
	defer rows.Close()

	for rows.Next() {
		if err := scanFunc(rows); err != nil {
			return errutil.Wrap("scan row", err)
		}
	}

	if err := rows.Err(); err != nil {
		return errutil.Wrap("iterate rows", err)
	}

	return nil
}

func (qh *QueryHelper) FetchOne(
	ctx context.Context,
	query string,
	scanFunc func(pgx.Row) error,
	args ...any,
) error {
	row := qh.pool.QueryRow(ctx, query, args...)
	if err := scanFunc(row); err != nil {
		return errutil.Wrap("scan row", err)
	}

	return nil
}

// Package postgres binds the Cache Contract to a pgx-backed Postgres store,
// one table per partition (spec.md §6 persistent layout): an explicit-set
// backend (TEXT[] column) and a bitmap backend (BIT VARYING column, chosen
// over a bytea-serialized Roaring bitmap specifically so lazy mode can push
// the intersection down as a native BIT_AND aggregate).
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/MPoppinga/partitioncache/internal/errutil"
	"github.com/MPoppinga/partitioncache/pkg/database"
)

var identSanitizer = regexp.MustCompile(`[^a-z0-9_]`)

func sanitizePartition(partition string) string {
	return identSanitizer.ReplaceAllString(strings.ToLower(partition), "_")
}

func setTableName(partition string) string {
	return fmt.Sprintf("pc_%s_set", sanitizePartition(partition))
}

func bitTableName(partition string) string {
	return fmt.Sprintf("pc_%s_bitmap", sanitizePartition(partition))
}

func queriesTableName(partition string) string {
	return fmt.Sprintf("pc_%s_queries", sanitizePartition(partition))
}

func ensureSetTable(ctx context.Context, pool *database.Pool, partition string) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		hash TEXT PRIMARY KEY,
		value TEXT[],
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`, setTableName(partition))

	if _, err := pool.Exec(ctx, ddl); err != nil {
		return errutil.Wrap("ensure set table", err)
	}

	queriesDDL := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		hash TEXT PRIMARY KEY,
		query TEXT
	)`, queriesTableName(partition))

	if _, err := pool.Exec(ctx, queriesDDL); err != nil {
		return errutil.Wrap("ensure queries table", err)
	}

	return nil
}

func ensureBitTable(ctx context.Context, pool *database.Pool, partition string, bitsize uint64) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		hash TEXT PRIMARY KEY,
		value BIT VARYING(%d),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`, bitTableName(partition), bitsize)

	if _, err := pool.Exec(ctx, ddl); err != nil {
		return errutil.Wrap("ensure bitmap table", err)
	}

	queriesDDL := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		hash TEXT PRIMARY KEY,
		query TEXT
	)`, queriesTableName(partition))

	if _, err := pool.Exec(ctx, queriesDDL); err != nil {
		return errutil.Wrap("ensure queries table", err)
	}

	return nil
}

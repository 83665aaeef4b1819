package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/MPoppinga/partitioncache/internal/cachecontract"
	"github.com/MPoppinga/partitioncache/internal/errutil"
	"github.com/MPoppinga/partitioncache/pkg/database"
)

const (
	originalTable = "pc_queue_original"
	fragmentTable = "pc_queue_fragment"
)

// PostgresBackend is the reference queue implementation: a relational
// store with `pg_try_advisory_lock` for the fragment lock, the combination
// SPEC_FULL.md §4.4 calls out as preferred for strong single-flight.
type PostgresBackend struct {
	pool *database.Pool
}

func NewPostgresBackend(ctx context.Context, pool *database.Pool) (*PostgresBackend, error) {
	b := &PostgresBackend{pool: pool}
	if err := b.ensureTables(ctx); err != nil {
		return nil, err
	}

	return b, nil
}

func (b *PostgresBackend) ensureTables(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			partition TEXT NOT NULL,
			query TEXT NOT NULL,
			enqueued_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, originalTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			partition TEXT NOT NULL,
			hash TEXT NOT NULL,
			text TEXT NOT NULL,
			enqueued_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (partition, hash)
		)`, fragmentTable),
	}

	for _, stmt := range stmts {
		if _, err := b.pool.Exec(ctx, stmt); err != nil {
			return errutil.Wrap("ensure queue tables", err)
		}
	}

	return nil
}

func (b *PostgresBackend) PushOriginal(ctx context.Context, partition, query string) error {
	sql := fmt.Sprintf(`INSERT INTO %s (partition, query) VALUES ($1, $2)`, originalTable)

	_, err := b.pool.Exec(ctx, sql, partition, query)

	return err
}

// PushFragments enqueues fragments not already queued (a UNIQUE constraint
// on (partition, hash) makes the queued check atomic) or, per alreadyCached,
// already present in the cache.
func (b *PostgresBackend) PushFragments(
	ctx context.Context, partition string, fragments []FragmentEntry, alreadyCached func(hash string) bool,
) (int, error) {
	sql := fmt.Sprintf(
		`INSERT INTO %s (partition, hash, text) VALUES ($1, $2, $3) ON CONFLICT (partition, hash) DO NOTHING`,
		fragmentTable,
	)

	pushed := 0

	for _, f := range fragments {
		if alreadyCached != nil && alreadyCached(f.Hash) {
			continue
		}

		tag, err := b.pool.Exec(ctx, sql, partition, f.Hash, f.Text)
		if err != nil {
			return pushed, err
		}

		pushed += int(tag.RowsAffected())
	}

	return pushed, nil
}

func (b *PostgresBackend) PopOriginal(ctx context.Context) (OriginalEntry, bool, error) {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return OriginalEntry{}, false, &cachecontract.BackendUnavailableError{Op: "pop_original", Cause: err}
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return OriginalEntry{}, false, &cachecontract.BackendUnavailableError{Op: "begin pop_original", Cause: err}
	}
	defer func() { _ = tx.Rollback(ctx) }()

	sql := fmt.Sprintf(
		`SELECT id, partition, query, enqueued_at FROM %s ORDER BY id LIMIT 1 FOR UPDATE SKIP LOCKED`,
		originalTable,
	)

	var (
		id    int64
		entry OriginalEntry
	)

	row := tx.QueryRow(ctx, sql)

	if err := row.Scan(&id, &entry.Partition, &entry.Query, &entry.EnqueuedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return OriginalEntry{}, false, nil
		}

		return OriginalEntry{}, false, errutil.Wrap("pop_original", err)
	}

	if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, originalTable), id); err != nil {
		return OriginalEntry{}, false, errutil.Wrap("pop_original delete", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return OriginalEntry{}, false, errutil.Wrap("commit pop_original", err)
	}

	return entry, true, nil
}

func (b *PostgresBackend) PopFragment(ctx context.Context) (FragmentEntry, bool, error) {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return FragmentEntry{}, false, &cachecontract.BackendUnavailableError{Op: "pop_fragment", Cause: err}
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return FragmentEntry{}, false, &cachecontract.BackendUnavailableError{Op: "begin pop_fragment", Cause: err}
	}
	defer func() { _ = tx.Rollback(ctx) }()

	sql := fmt.Sprintf(
		`SELECT id, partition, hash, text, enqueued_at FROM %s ORDER BY id LIMIT 1 FOR UPDATE SKIP LOCKED`,
		fragmentTable,
	)

	var (
		id    int64
		entry FragmentEntry
	)

	row := tx.QueryRow(ctx, sql)

	if err := row.Scan(&id, &entry.Partition, &entry.Hash, &entry.Text, &entry.EnqueuedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return FragmentEntry{}, false, nil
		}

		return FragmentEntry{}, false, errutil.Wrap("pop_fragment", err)
	}

	if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, fragmentTable), id); err != nil {
		return FragmentEntry{}, false, errutil.Wrap("pop_fragment delete", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return FragmentEntry{}, false, errutil.Wrap("commit pop_fragment", err)
	}

	return entry, true, nil
}

// TryLockFragment acquires a session-scoped pg_try_advisory_lock keyed by
// a 64-bit digest of (partition, hash). The lock lives on a single
// checked-out connection, released back to the pool only once Unlock runs.
func (b *PostgresBackend) TryLockFragment(ctx context.Context, partition, hash string) (FragmentLock, bool, error) {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return nil, false, err
	}

	key := lockKey(partition, hash)

	var acquired bool

	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&acquired); err != nil {
		conn.Release()

		return nil, false, errutil.Wrap("try_lock_fragment", err)
	}

	if !acquired {
		conn.Release()

		return nil, false, nil
	}

	return &postgresFragmentLock{conn: conn, key: key}, true, nil
}

func (b *PostgresBackend) Close() error {
	b.pool.Close()

	return nil
}

// ExistsInCache adapts a cachecontract.Handler into the alreadyCached
// predicate PushFragments expects.
func ExistsInCache(ctx context.Context, handler cachecontract.Handler, partition string) func(hash string) bool {
	return func(hash string) bool {
		ok, err := handler.Exists(ctx, partition, hash)

		return err == nil && ok
	}
}

type postgresFragmentLock struct {
	conn releaser
	key  int64
}

// releaser is the subset of *pgxpool.Conn this package needs, narrowed so
// tests can supply a fake.
type releaser interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Release()
}

func (l *postgresFragmentLock) Unlock(ctx context.Context) error {
	defer l.conn.Release()

	var released bool
	if err := l.conn.QueryRow(ctx, `SELECT pg_advisory_unlock($1)`, l.key).Scan(&released); err != nil {
		return errutil.Wrap("unlock_fragment", err)
	}

	if !released {
		return errutil.Wrap("unlock_fragment", errNotHeld)
	}

	return nil
}

var errNotHeld = errors.New("advisory lock was not held by this session")

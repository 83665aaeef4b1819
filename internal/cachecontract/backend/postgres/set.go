package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/MPoppinga/partitioncache/internal/cachecontract"
	"github.com/MPoppinga/partitioncache/internal/errutil"
	"github.com/MPoppinga/partitioncache/pkg/database"
)

// SetBackend is the explicit-set Postgres Handler: one TEXT[]-valued table
// per partition.
type SetBackend struct {
	pool *database.Pool
	qh   *database.QueryHelper
}

func NewSetBackend(pool *database.Pool) *SetBackend {
	return &SetBackend{pool: pool, qh: database.NewQueryHelper(pool)}
}

func (s *SetBackend) Capabilities() cachecontract.Capabilities {
	return cachecontract.Capabilities{Encoding: cachecontract.ExplicitSetEncoding, Lazy: true}
}

func (s *SetBackend) ensure(ctx context.Context, partition string) error {
	return withRetry(ctx, "ensure set table", func() error {
		return ensureSetTable(ctx, s.pool, partition)
	})
}

func (s *SetBackend) Get(ctx context.Context, partition, hash string) (cachecontract.GetResult, error) {
	if err := s.ensure(ctx, partition); err != nil {
		return cachecontract.GetResult{}, err
	}

	query := fmt.Sprintf(`SELECT value FROM %s WHERE hash = $1`, setTableName(partition))

	var values []string

	var result cachecontract.GetResult

	err := withRetry(ctx, "get", func() error {
		row := s.pool.QueryRow(ctx, query, hash)

		err := row.Scan(&values)
		if err != nil {
			if err == pgx.ErrNoRows {
				result = cachecontract.GetResult{Kind: cachecontract.Miss}

				return nil
			}

			return err
		}

		if values == nil {
			result = cachecontract.GetResult{Kind: cachecontract.Null}

			return nil
		}

		set := cachecontract.NewExplicitSet(cachecontract.Text)
		for _, v := range values {
			set.Add(cachecontract.PartitionValue(v))
		}

		result = cachecontract.GetResult{Kind: cachecontract.Hit, Explicit: set}

		return nil
	})

	return result, err
}

func (s *SetBackend) Exists(ctx context.Context, partition, hash string) (bool, error) {
	res, err := s.Get(ctx, partition, hash)
	if err != nil {
		return false, err
	}

	return res.Kind != cachecontract.Miss, nil
}

func (s *SetBackend) FilterExisting(ctx context.Context, partition string, hashes []string) ([]string, error) {
	if err := s.ensure(ctx, partition); err != nil {
		return nil, err
	}

	// Null-marker rows are present but carry no constraint; filter_existing
	// reports only real hits.
	query := fmt.Sprintf(`SELECT hash FROM %s WHERE hash = ANY($1) AND value IS NOT NULL`, setTableName(partition))

	var out []string

	err := withRetry(ctx, "filter_existing", func() error {
		out = nil

		return s.qh.FetchAll(ctx, query, func(rows pgx.Rows) error {
			var h string
			if err := rows.Scan(&h); err != nil {
				return err
			}

			out = append(out, h)

			return nil
		}, hashes)
	})

	return out, err
}

func (s *SetBackend) GetIntersected(
	ctx context.Context, partition string, hashes []string,
) (cachecontract.GetResult, int, error) {
	var (
		acc    *cachecontract.ExplicitSet
		count  int
		sawHit bool
	)

	for _, h := range hashes {
		res, err := s.Get(ctx, partition, h)
		if err != nil {
			return cachecontract.GetResult{}, 0, err
		}

		switch res.Kind {
		case cachecontract.Hit:
			count++
			sawHit = true

			if acc == nil {
				acc = res.Explicit
			} else {
				acc = acc.Intersect(res.Explicit)
			}
		case cachecontract.Null:
			count++
		case cachecontract.Miss:
		}
	}

	if count == 0 {
		return cachecontract.GetResult{Kind: cachecontract.Miss}, 0, nil
	}

	if !sawHit {
		return cachecontract.GetResult{Kind: cachecontract.Null}, count, nil
	}

	return cachecontract.GetResult{Kind: cachecontract.Hit, Explicit: acc}, count, nil
}

// GetIntersectedSQL returns a lazy expression yielding the intersection of
// present (non-null) entries for hashes, computed server-side: unnest every
// present row's array and keep values that appeared in every present row.
func (s *SetBackend) GetIntersectedSQL(_ context.Context, partition string, hashes []string) (string, error) {
	placeholders := make([]string, len(hashes))
	for i, h := range hashes {
		placeholders[i] = fmt.Sprintf("'%s'", escapeLiteral(h))
	}

	table := setTableName(partition)
	hashList := strings.Join(placeholders, ", ")

	sql := fmt.Sprintf(`(
		WITH present AS (
			SELECT hash, value FROM %s WHERE hash IN (%s) AND value IS NOT NULL
		)
		SELECT v FROM (SELECT unnest(value) AS v FROM present) t
		GROUP BY v
		HAVING COUNT(*) = (SELECT COUNT(*) FROM present)
	)`, table, hashList)

	return sql, nil
}

func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func (s *SetBackend) SetSet(ctx context.Context, partition, hash string, values *cachecontract.ExplicitSet) error {
	if err := s.ensure(ctx, partition); err != nil {
		return err
	}

	if values == nil || values.IsEmpty() {
		return s.SetNull(ctx, partition, hash)
	}

	members := values.Members()
	strs := make([]string, len(members))

	for i, m := range members {
		strs[i] = string(m)
	}

	query := fmt.Sprintf(`INSERT INTO %s (hash, value) VALUES ($1, $2)
		ON CONFLICT (hash) DO UPDATE SET value = EXCLUDED.value`, setTableName(partition))

	return withRetry(ctx, "set_set", func() error {
		_, err := s.pool.Exec(ctx, query, hash, strs)

		return err
	})
}

func (s *SetBackend) SetBitmap(_ context.Context, _, _ string, _ *cachecontract.BitmapSet) error {
	return errEncodingMismatch
}

// RecordQueryText stores the fragment text behind hash in the sibling
// diagnostics table.
func (s *SetBackend) RecordQueryText(ctx context.Context, partition, hash, text string) error {
	if err := s.ensure(ctx, partition); err != nil {
		return err
	}

	query := fmt.Sprintf(`INSERT INTO %s (hash, query) VALUES ($1, $2)
		ON CONFLICT (hash) DO UPDATE SET query = EXCLUDED.query`, queriesTableName(partition))

	return withRetry(ctx, "record_query_text", func() error {
		_, err := s.pool.Exec(ctx, query, hash, text)

		return err
	})
}

func (s *SetBackend) SetNull(ctx context.Context, partition, hash string) error {
	if err := s.ensure(ctx, partition); err != nil {
		return err
	}

	query := fmt.Sprintf(`INSERT INTO %s (hash, value) VALUES ($1, NULL)
		ON CONFLICT (hash) DO UPDATE SET value = NULL`, setTableName(partition))

	return withRetry(ctx, "set_null", func() error {
		_, err := s.pool.Exec(ctx, query, hash)

		return err
	})
}

func (s *SetBackend) Delete(ctx context.Context, partition, hash string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE hash = $1`, setTableName(partition))

	return withRetry(ctx, "delete", func() error {
		_, err := s.pool.Exec(ctx, query, hash)

		return err
	})
}

func (s *SetBackend) GetAllKeys(ctx context.Context, partition string) ([]string, error) {
	if err := s.ensure(ctx, partition); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT hash FROM %s`, setTableName(partition))

	var out []string

	err := withRetry(ctx, "get_all_keys", func() error {
		out = nil

		return s.qh.FetchAll(ctx, query, func(rows pgx.Rows) error {
			var h string
			if err := rows.Scan(&h); err != nil {
				return err
			}

			out = append(out, h)

			return nil
		})
	})

	return out, err
}

func (s *SetBackend) Close() error {
	s.pool.Close()

	return nil
}

var errEncodingMismatch = errutil.Wrap("set_bitmap", fmt.Errorf("explicit-set backend does not support bitmap values"))

package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/MPoppinga/partitioncache/internal/cachecontract"
	"github.com/MPoppinga/partitioncache/pkg/database"
)

// BitBackend is the bitmap-encoded Postgres Handler: one BIT VARYING(N)
// table per partition, N fixed at construction time by the partition's
// registered bitsize. Persisting a native bit column (rather than the
// serialized Roaring bitmap bytes) is what lets GetIntersectedSQL push the
// intersection down as Postgres's own BIT_AND aggregate.
type BitBackend struct {
	pool    *database.Pool
	qh      *database.QueryHelper
	bitsize uint64
}

func NewBitBackend(pool *database.Pool, bitsize uint64) *BitBackend {
	return &BitBackend{pool: pool, qh: database.NewQueryHelper(pool), bitsize: bitsize}
}

func (b *BitBackend) Capabilities() cachecontract.Capabilities {
	return cachecontract.Capabilities{Encoding: cachecontract.BitmapEncoding, Lazy: true}
}

func (b *BitBackend) ensure(ctx context.Context, partition string) error {
	return withRetry(ctx, "ensure bitmap table", func() error {
		return ensureBitTable(ctx, b.pool, partition, b.bitsize)
	})
}

func (b *BitBackend) Get(ctx context.Context, partition, hash string) (cachecontract.GetResult, error) {
	if err := b.ensure(ctx, partition); err != nil {
		return cachecontract.GetResult{}, err
	}

	query := fmt.Sprintf(`SELECT value FROM %s WHERE hash = $1`, bitTableName(partition))

	var result cachecontract.GetResult

	err := withRetry(ctx, "get", func() error {
		var bits pgtype.Bits

		row := b.pool.QueryRow(ctx, query, hash)

		err := row.Scan(&bits)
		if err != nil {
			if err == pgx.ErrNoRows {
				result = cachecontract.GetResult{Kind: cachecontract.Miss}

				return nil
			}

			return err
		}

		if !bits.Valid {
			result = cachecontract.GetResult{Kind: cachecontract.Null}

			return nil
		}

		bm, err := bitsToBitmapSet(b.bitsize, bits)
		if err != nil {
			return err
		}

		result = cachecontract.GetResult{Kind: cachecontract.Hit, Bitmap: bm}

		return nil
	})

	return result, err
}

func (b *BitBackend) Exists(ctx context.Context, partition, hash string) (bool, error) {
	res, err := b.Get(ctx, partition, hash)
	if err != nil {
		return false, err
	}

	return res.Kind != cachecontract.Miss, nil
}

func (b *BitBackend) FilterExisting(ctx context.Context, partition string, hashes []string) ([]string, error) {
	if err := b.ensure(ctx, partition); err != nil {
		return nil, err
	}

	// Null-marker rows are present but carry no constraint; filter_existing
	// reports only real hits.
	query := fmt.Sprintf(`SELECT hash FROM %s WHERE hash = ANY($1) AND value IS NOT NULL`, bitTableName(partition))

	var out []string

	err := withRetry(ctx, "filter_existing", func() error {
		out = nil

		return b.qh.FetchAll(ctx, query, func(rows pgx.Rows) error {
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

func (b *BitBackend) GetIntersected(
	ctx context.Context, partition string, hashes []string,
) (cachecontract.GetResult, int, error) {
	var (
		acc    *cachecontract.BitmapSet
		count  int
		sawHit bool
	)

	for _, h := range hashes {
		res, err := b.Get(ctx, partition, h)
		if err != nil {
			return cachecontract.GetResult{}, 0, err
		}

		switch res.Kind {
		case cachecontract.Hit:
			count++
			sawHit = true

			if acc == nil {
				acc = res.Bitmap
			} else {
				acc = acc.Intersect(res.Bitmap)
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

	return cachecontract.GetResult{Kind: cachecontract.Hit, Bitmap: acc}, count, nil
}

// GetIntersectedSQL returns an expression selecting the set-bit positions
// of BIT_AND across every present (non-null) hash's row.
func (b *BitBackend) GetIntersectedSQL(_ context.Context, partition string, hashes []string) (string, error) {
	placeholders := make([]string, len(hashes))
	for i, h := range hashes {
		placeholders[i] = fmt.Sprintf("'%s'", escapeLiteral(h))
	}

	table := bitTableName(partition)
	hashList := strings.Join(placeholders, ", ")

	sql := fmt.Sprintf(`(
		SELECT n - 1 AS v
		FROM generate_series(1, %d) AS n
		WHERE substring(
			(SELECT BIT_AND(value) FROM %s WHERE hash IN (%s) AND value IS NOT NULL)::text
			FROM n FOR 1
		) = '1'
	)`, b.bitsize, table, hashList)

	return sql, nil
}

func (b *BitBackend) SetSet(_ context.Context, _, _ string, _ *cachecontract.ExplicitSet) error {
	return errEncodingMismatch
}

// RecordQueryText stores the fragment text behind hash in the sibling
// diagnostics table.
func (b *BitBackend) RecordQueryText(ctx context.Context, partition, hash, text string) error {
	if err := b.ensure(ctx, partition); err != nil {
		return err
	}

	query := fmt.Sprintf(`INSERT INTO %s (hash, query) VALUES ($1, $2)
		ON CONFLICT (hash) DO UPDATE SET query = EXCLUDED.query`, queriesTableName(partition))

	return withRetry(ctx, "record_query_text", func() error {
		_, err := b.pool.Exec(ctx, query, hash, text)

		return err
	})
}

func (b *BitBackend) SetBitmap(ctx context.Context, partition, hash string, bitmap *cachecontract.BitmapSet) error {
	if err := b.ensure(ctx, partition); err != nil {
		return err
	}

	if bitmap == nil || bitmap.IsEmpty() {
		return b.SetNull(ctx, partition, hash)
	}

	bits := bitmapToBits(bitmap, b.bitsize)

	query := fmt.Sprintf(`INSERT INTO %s (hash, value) VALUES ($1, $2)
		ON CONFLICT (hash) DO UPDATE SET value = EXCLUDED.value`, bitTableName(partition))

	return withRetry(ctx, "set_bitmap", func() error {
		_, err := b.pool.Exec(ctx, query, hash, bits)

		return err
	})
}

func (b *BitBackend) SetNull(ctx context.Context, partition, hash string) error {
	if err := b.ensure(ctx, partition); err != nil {
		return err
	}

	query := fmt.Sprintf(`INSERT INTO %s (hash, value) VALUES ($1, NULL)
		ON CONFLICT (hash) DO UPDATE SET value = NULL`, bitTableName(partition))

	return withRetry(ctx, "set_null", func() error {
		_, err := b.pool.Exec(ctx, query, hash)

		return err
	})
}

func (b *BitBackend) Delete(ctx context.Context, partition, hash string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE hash = $1`, bitTableName(partition))

	return withRetry(ctx, "delete", func() error {
		_, err := b.pool.Exec(ctx, query, hash)

		return err
	})
}

func (b *BitBackend) GetAllKeys(ctx context.Context, partition string) ([]string, error) {
	if err := b.ensure(ctx, partition); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT hash FROM %s`, bitTableName(partition))

	var out []string

	err := withRetry(ctx, "get_all_keys", func() error {
		out = nil

		return b.qh.FetchAll(ctx, query, func(rows pgx.Rows) error {
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

func (b *BitBackend) Close() error {
	b.pool.Close()

	return nil
}

// ExplicitSetView exposes the same store through the explicit-set handler,
// used by the Registry to persist its text-valued entries alongside a
// bitmap-encoded cache.
func (b *BitBackend) ExplicitSetView() cachecontract.Handler {
	return &SetBackend{pool: b.pool, qh: b.qh}
}

func bitmapToBits(bm *cachecontract.BitmapSet, bitsize uint64) pgtype.Bits {
	nbytes := (bitsize + 7) / 8
	data := make([]byte, nbytes)

	for _, v := range bm.Members() {
		byteIdx := v / 8
		bitOffset := 7 - (v % 8)
		data[byteIdx] |= 1 << bitOffset
	}

	return pgtype.Bits{Bytes: data, Len: int32(bitsize), Valid: true} //nolint:gosec
}

func bitsToBitmapSet(bitsize uint64, bits pgtype.Bits) (*cachecontract.BitmapSet, error) {
	bm := cachecontract.NewBitmapSet(bitsize)

	for i := uint64(0); i < bitsize && i < uint64(bits.Len); i++ {
		byteIdx := i / 8
		bitOffset := 7 - (i % 8)

		if int(byteIdx) < len(bits.Bytes) && bits.Bytes[byteIdx]&(1<<bitOffset) != 0 {
			if err := bm.Add(uint32(i)); err != nil { //nolint:gosec
				return nil, err
			}
		}
	}

	return bm, nil
}

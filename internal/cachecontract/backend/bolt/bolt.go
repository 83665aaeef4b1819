// Package bolt binds the Cache Contract's explicit-set encoding to a
// file-backed bbolt store: one bucket per partition, one key per fragment
// hash. It is the embedded persistent backend - a single database file, no
// server process - for single-host deployments that want the cache to
// survive restarts without running Postgres or Redis. No lazy capability:
// the cache and source database are never the same engine.
package bolt

import (
	"context"
	"encoding/json"

	"go.etcd.io/bbolt"

	"github.com/MPoppinga/partitioncache/internal/cachecontract"
	"github.com/MPoppinga/partitioncache/internal/errutil"
)

// Values are tagged with a one-byte marker so Null (evaluated, empty) is
// distinguishable from a stored hit.
const (
	markerHit  = byte(0)
	markerNull = byte(1)
)

type Backend struct {
	db *bbolt.DB
}

// Open opens (creating if necessary) the database file at path. bbolt
// holds an exclusive file lock, so one process owns the file at a time;
// within that process the Backend is safe for concurrent use.
func Open(path string) (*Backend, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, errutil.Wrap("open bolt cache", err)
	}

	return &Backend{db: db}, nil
}

func (b *Backend) Capabilities() cachecontract.Capabilities {
	return cachecontract.Capabilities{Encoding: cachecontract.ExplicitSetEncoding, Lazy: false}
}

func (b *Backend) Get(_ context.Context, partition, hash string) (cachecontract.GetResult, error) {
	var result cachecontract.GetResult

	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(partition))
		if bucket == nil {
			result = cachecontract.GetResult{Kind: cachecontract.Miss}

			return nil
		}

		data := bucket.Get([]byte(hash))

		switch {
		case data == nil:
			result = cachecontract.GetResult{Kind: cachecontract.Miss}

			return nil
		case len(data) == 0 || data[0] == markerNull:
			result = cachecontract.GetResult{Kind: cachecontract.Null}

			return nil
		}

		var members []string
		if err := json.Unmarshal(data[1:], &members); err != nil {
			return errutil.Wrap("decode set entry", err)
		}

		set := cachecontract.NewExplicitSet(cachecontract.Text)
		for _, m := range members {
			set.Add(cachecontract.PartitionValue(m))
		}

		result = cachecontract.GetResult{Kind: cachecontract.Hit, Explicit: set}

		return nil
	})
	if err != nil {
		return cachecontract.GetResult{}, err
	}

	return result, nil
}

func (b *Backend) Exists(ctx context.Context, partition, hash string) (bool, error) {
	res, err := b.Get(ctx, partition, hash)
	if err != nil {
		return false, err
	}

	return res.Kind != cachecontract.Miss, nil
}

func (b *Backend) FilterExisting(ctx context.Context, partition string, hashes []string) ([]string, error) {
	out := make([]string, 0, len(hashes))

	for _, h := range hashes {
		res, err := b.Get(ctx, partition, h)
		if err != nil {
			return nil, err
		}

		if res.Kind == cachecontract.Hit {
			out = append(out, h)
		}
	}

	return out, nil
}

func (b *Backend) GetIntersected(
	ctx context.Context, partition string, hashes []string,
) (cachecontract.GetResult, int, error) {
	var (
		acc    *cachecontract.ExplicitSet
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

func (b *Backend) SetSet(ctx context.Context, partition, hash string, values *cachecontract.ExplicitSet) error {
	if values == nil || values.IsEmpty() {
		return b.SetNull(ctx, partition, hash)
	}

	members := values.Members()
	strs := make([]string, len(members))

	for i, m := range members {
		strs[i] = string(m)
	}

	data, err := json.Marshal(strs)
	if err != nil {
		return errutil.Wrap("encode set entry", err)
	}

	payload := append([]byte{markerHit}, data...)

	return b.put(partition, hash, payload, "set_set")
}

func (b *Backend) SetBitmap(_ context.Context, _, _ string, _ *cachecontract.BitmapSet) error {
	return errUnsupportedEncoding
}

func (b *Backend) SetNull(_ context.Context, partition, hash string) error {
	return b.put(partition, hash, []byte{markerNull}, "set_null")
}

func (b *Backend) put(partition, hash string, payload []byte, op string) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(partition))
		if err != nil {
			return err
		}

		return bucket.Put([]byte(hash), payload)
	})
	if err != nil {
		return &cachecontract.BackendUnavailableError{Op: op, Cause: err}
	}

	return nil
}

func (b *Backend) Delete(_ context.Context, partition, hash string) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(partition))
		if bucket == nil {
			return nil
		}

		return bucket.Delete([]byte(hash))
	})
	if err != nil {
		return &cachecontract.BackendUnavailableError{Op: "delete", Cause: err}
	}

	return nil
}

func (b *Backend) GetAllKeys(_ context.Context, partition string) ([]string, error) {
	var out []string

	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(partition))
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, _ []byte) error {
			out = append(out, string(k))

			return nil
		})
	})
	if err != nil {
		return nil, &cachecontract.BackendUnavailableError{Op: "get_all_keys", Cause: err}
	}

	return out, nil
}

func (b *Backend) Close() error {
	return b.db.Close()
}

// Package redisbit binds the Cache Contract's bitmap encoding to Redis,
// storing each partition/hash's Roaring bitmap as a serialized byte string
// via go-redis. No lazy capability, for the same reason as redisset: the
// cache and source database are distinct engines.
package redisbit

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/MPoppinga/partitioncache/internal/cachecontract"
	"github.com/MPoppinga/partitioncache/internal/cachecontract/backend/redisset"
	"github.com/MPoppinga/partitioncache/internal/errutil"
)

// Values are tagged with a one-byte marker so Null (evaluated, empty) is
// distinguishable from a genuinely empty bitmap payload.
const (
	markerHit  = byte(0)
	markerNull = byte(1)
)

type Backend struct {
	client  *redis.Client
	bitsize uint64
}

func New(client *redis.Client, bitsize uint64) *Backend {
	return &Backend{client: client, bitsize: bitsize}
}

func (b *Backend) Capabilities() cachecontract.Capabilities {
	return cachecontract.Capabilities{Encoding: cachecontract.BitmapEncoding, Lazy: false}
}

func key(partition, hash string) string {
	return "pcbit:" + partition + ":" + hash
}

func (b *Backend) Get(ctx context.Context, partition, hash string) (cachecontract.GetResult, error) {
	data, err := b.client.Get(ctx, key(partition, hash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return cachecontract.GetResult{Kind: cachecontract.Miss}, nil
		}

		return cachecontract.GetResult{}, &cachecontract.BackendUnavailableError{Op: "get", Cause: err}
	}

	if len(data) == 0 || data[0] == markerNull {
		return cachecontract.GetResult{Kind: cachecontract.Null}, nil
	}

	bm, err := cachecontract.BitmapSetFromBytes(b.bitsize, data[1:])
	if err != nil {
		return cachecontract.GetResult{}, errutil.Wrap("decode bitmap", err)
	}

	return cachecontract.GetResult{Kind: cachecontract.Hit, Bitmap: bm}, nil
}

func (b *Backend) Exists(ctx context.Context, partition, hash string) (bool, error) {
	n, err := b.client.Exists(ctx, key(partition, hash)).Result()
	if err != nil {
		return false, &cachecontract.BackendUnavailableError{Op: "exists", Cause: err}
	}

	return n > 0, nil
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

func (b *Backend) SetSet(_ context.Context, _, _ string, _ *cachecontract.ExplicitSet) error {
	return errutil.Wrap("set_set", errors.New("redisbit backend does not support explicit-set values"))
}

func (b *Backend) SetBitmap(ctx context.Context, partition, hash string, bitmap *cachecontract.BitmapSet) error {
	if bitmap == nil || bitmap.IsEmpty() {
		return b.SetNull(ctx, partition, hash)
	}

	raw, err := bitmap.MarshalBinary()
	if err != nil {
		return errutil.Wrap("marshal bitmap", err)
	}

	payload := append([]byte{markerHit}, raw...)

	if err := b.client.Set(ctx, key(partition, hash), payload, 0).Err(); err != nil {
		return &cachecontract.BackendUnavailableError{Op: "set_bitmap", Cause: err}
	}

	return nil
}

func (b *Backend) SetNull(ctx context.Context, partition, hash string) error {
	if err := b.client.Set(ctx, key(partition, hash), []byte{markerNull}, 0).Err(); err != nil {
		return &cachecontract.BackendUnavailableError{Op: "set_null", Cause: err}
	}

	return nil
}

func (b *Backend) Delete(ctx context.Context, partition, hash string) error {
	if err := b.client.Del(ctx, key(partition, hash)).Err(); err != nil {
		return &cachecontract.BackendUnavailableError{Op: "delete", Cause: err}
	}

	return nil
}

func (b *Backend) GetAllKeys(ctx context.Context, partition string) ([]string, error) {
	var (
		out    []string
		cursor uint64
	)

	prefix := "pcbit:" + partition + ":"

	for {
		keys, next, err := b.client.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return nil, &cachecontract.BackendUnavailableError{Op: "get_all_keys", Cause: err}
		}

		for _, k := range keys {
			out = append(out, k[len(prefix):])
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return out, nil
}

func (b *Backend) Close() error {
	return b.client.Close()
}

// ExplicitSetView exposes the same Redis instance through the explicit-set
// handler, used by the Registry to persist its text-valued entries
// alongside a bitmap-encoded cache.
func (b *Backend) ExplicitSetView() cachecontract.Handler {
	return redisset.New(b.client)
}

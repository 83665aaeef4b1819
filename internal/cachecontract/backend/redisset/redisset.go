// Package redisset binds the Cache Contract's explicit-set encoding to a
// Redis SET per (partition, hash), using go-redis. No lazy capability: the
// cache and source database are never the same engine, so there is no SQL
// expression to push intersection into.
package redisset

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/MPoppinga/partitioncache/internal/cachecontract"
	"github.com/MPoppinga/partitioncache/internal/errutil"
)

const nullMember = "\x00partitioncache-null\x00"

type Backend struct {
	client *redis.Client
}

func New(client *redis.Client) *Backend {
	return &Backend{client: client}
}

func (b *Backend) Capabilities() cachecontract.Capabilities {
	return cachecontract.Capabilities{Encoding: cachecontract.ExplicitSetEncoding, Lazy: false}
}

func key(partition, hash string) string {
	return "pc:" + partition + ":" + hash
}

func (b *Backend) Get(ctx context.Context, partition, hash string) (cachecontract.GetResult, error) {
	members, err := b.client.SMembers(ctx, key(partition, hash)).Result()
	if err != nil {
		return cachecontract.GetResult{}, &cachecontract.BackendUnavailableError{Op: "get", Cause: err}
	}

	if len(members) == 0 {
		exists, err := b.client.Exists(ctx, key(partition, hash)).Result()
		if err != nil {
			return cachecontract.GetResult{}, &cachecontract.BackendUnavailableError{Op: "get", Cause: err}
		}

		if exists == 0 {
			return cachecontract.GetResult{Kind: cachecontract.Miss}, nil
		}

		return cachecontract.GetResult{Kind: cachecontract.Null}, nil
	}

	if len(members) == 1 && members[0] == nullMember {
		return cachecontract.GetResult{Kind: cachecontract.Null}, nil
	}

	set := cachecontract.NewExplicitSet(cachecontract.Text)
	for _, m := range members {
		set.Add(cachecontract.PartitionValue(m))
	}

	return cachecontract.GetResult{Kind: cachecontract.Hit, Explicit: set}, nil
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
	k := key(partition, hash)

	if values == nil || values.IsEmpty() {
		return b.SetNull(ctx, partition, hash)
	}

	members := values.Members()
	args := make([]any, len(members))

	for i, m := range members {
		args[i] = string(m)
	}

	pipe := b.client.TxPipeline()
	pipe.Del(ctx, k)
	pipe.SAdd(ctx, k, args...)

	if _, err := pipe.Exec(ctx); err != nil {
		return &cachecontract.BackendUnavailableError{Op: "set_set", Cause: err}
	}

	return nil
}

func (b *Backend) SetBitmap(_ context.Context, _, _ string, _ *cachecontract.BitmapSet) error {
	return errutil.Wrap("set_bitmap", errors.New("redisset backend does not support bitmap values"))
}

func (b *Backend) SetNull(ctx context.Context, partition, hash string) error {
	k := key(partition, hash)

	pipe := b.client.TxPipeline()
	pipe.Del(ctx, k)
	pipe.SAdd(ctx, k, nullMember)

	if _, err := pipe.Exec(ctx); err != nil {
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

	prefix := "pc:" + partition + ":"

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

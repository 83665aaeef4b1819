// Package partitioncache is the public programmatic entry point named in
// spec.md §6: create_cache, generate_fragments, apply/apply_lazy, and
// queue push, composed from the internal components. It has no queue pop
// wrappers; popping is done through queue.Backend's PopOriginal and
// PopFragment.
package partitioncache

import (
	"context"

	"github.com/MPoppinga/partitioncache/internal/applycache"
	"github.com/MPoppinga/partitioncache/internal/cachecontract"
	"github.com/MPoppinga/partitioncache/internal/queryproc"
	"github.com/MPoppinga/partitioncache/internal/queue"
)

// Datatype re-exports cachecontract.Datatype so callers of this package
// never need to import internal/cachecontract directly.
type Datatype = cachecontract.Datatype

const (
	Integer   = cachecontract.Integer
	Float     = cachecontract.Float
	Text      = cachecontract.Text
	Timestamp = cachecontract.Timestamp
)

// Options re-exports queryproc.Options.
type Options = queryproc.Options

// Fragment re-exports queryproc.Fragment.
type Fragment = queryproc.Fragment

// Handler re-exports the cache Handler contract.
type Handler = cachecontract.Handler

// ApplyResult re-exports applycache.Result.
type ApplyResult = applycache.Result

// CreateCache registers a partition's datatype (and, for bitmap backends,
// bitsize) with the given Handler's registry, creating the registry entry
// on first use.
func CreateCache(ctx context.Context, handler cachecontract.Handler, partition string, datatype Datatype, bitsize uint64) error {
	registry := cachecontract.NewRegistry(handler)

	var bitsizePtr *uint64
	if bitsize > 0 {
		bitsizePtr = &bitsize
	}

	return registry.Register(ctx, cachecontract.Entry{Partition: partition, Datatype: datatype, Bitsize: bitsizePtr})
}

// GenerateFragments is a thin wrapper over queryproc.GenerateFragments.
func GenerateFragments(sql, partition string, opts Options) ([]Fragment, error) {
	return queryproc.GenerateFragments(sql, partition, opts)
}

// Apply performs the materialized rewrite (spec.md §4.3).
func Apply(ctx context.Context, handler cachecontract.Handler, registry *cachecontract.Registry, sql, partition string, opts Options) (ApplyResult, error) {
	return applycache.New(handler, registry, partition).Apply(ctx, sql, opts)
}

// ApplyLazy performs the lazy rewrite (spec.md §4.3).
func ApplyLazy(ctx context.Context, handler cachecontract.Handler, registry *cachecontract.Registry, sql, partition string, opts Options) (ApplyResult, error) {
	return applycache.New(handler, registry, partition).ApplyLazy(ctx, sql, opts)
}

// PushOriginal enqueues a raw query for asynchronous decomposition.
func PushOriginal(ctx context.Context, q queue.Backend, partition, sql string) error {
	return q.PushOriginal(ctx, partition, sql)
}

// PushFragments enqueues fragments not already queued or cached.
func PushFragments(ctx context.Context, q queue.Backend, handler cachecontract.Handler, partition string, fragments []Fragment) (int, error) {
	entries := make([]queue.FragmentEntry, len(fragments))
	for i, f := range fragments {
		entries[i] = queue.FragmentEntry{Partition: partition, Hash: f.Hash, Text: f.Text}
	}

	return q.PushFragments(ctx, partition, entries, queue.ExistsInCache(ctx, handler, partition))
}

// Package applycache composes the rewrite that narrows a query to the
// partition set the cache has already proven reachable (spec.md §4.3).
package applycache

import (
	"context"
	"strconv"
	"strings"

	"github.com/MPoppinga/partitioncache/internal/cachecontract"
	"github.com/MPoppinga/partitioncache/internal/errutil"
	"github.com/MPoppinga/partitioncache/internal/queryproc"
)

// Applier rewrites queries using cache hits for a single partition.
type Applier struct {
	Handler      cachecontract.Handler
	Registry     *cachecontract.Registry
	PartitionKey string
}

func New(handler cachecontract.Handler, registry *cachecontract.Registry, partitionKey string) *Applier {
	return &Applier{Handler: handler, Registry: registry, PartitionKey: partitionKey}
}

// Result carries the rewritten query plus the hit/fragment counts spec.md
// §4.3 requires alongside it.
type Result struct {
	Query         string
	HitCount      int
	FragmentCount int
}

// Apply performs the materialized rewrite: Q' gets an added
// `partitionKey IN (v1, ..., vk)` predicate, or is returned unchanged if no
// fragment is present in the cache.
func (a *Applier) Apply(ctx context.Context, sql string, opts queryproc.Options) (Result, error) {
	frags, err := queryproc.GenerateFragments(sql, a.PartitionKey, opts)
	if err != nil {
		return Result{}, err
	}

	hashes := hashesOf(frags)

	res, hitCount, err := a.Handler.GetIntersected(ctx, a.PartitionKey, hashes)
	if err != nil {
		return Result{}, err
	}

	result := Result{Query: sql, HitCount: hitCount, FragmentCount: len(frags)}

	// A Null result means every present fragment was a null-marker
	// ("evaluated, no constraint") - sound but uninformative, so the query
	// is returned unconstrained rather than rewritten to FALSE.
	if hitCount == 0 || res.Kind == cachecontract.Null {
		return result, nil
	}

	predicate, err := a.renderMembershipPredicate(ctx, res)
	if err != nil {
		return Result{}, err
	}

	rewritten, err := injectPredicate(sql, predicate)
	if err != nil {
		return Result{}, err
	}

	result.Query = rewritten

	return result, nil
}

// ApplyLazy performs the lazy rewrite: the membership predicate embeds the
// backend's own intersection SQL expression instead of materialized
// values. Requires a backend advertising lazy capability.
func (a *Applier) ApplyLazy(ctx context.Context, sql string, opts queryproc.Options) (Result, error) {
	lazy, ok := a.Handler.(cachecontract.LazyHandler)
	if !ok {
		return Result{}, errutil.Wrap("apply_lazy", errNotLazyCapable)
	}

	frags, err := queryproc.GenerateFragments(sql, a.PartitionKey, opts)
	if err != nil {
		return Result{}, err
	}

	hashes := hashesOf(frags)

	present, err := a.Handler.FilterExisting(ctx, a.PartitionKey, hashes)
	if err != nil {
		return Result{}, err
	}

	result := Result{Query: sql, HitCount: len(present), FragmentCount: len(frags)}

	if len(present) == 0 {
		return result, nil
	}

	expr, err := lazy.GetIntersectedSQL(ctx, a.PartitionKey, present)
	if err != nil {
		return Result{}, err
	}

	predicate := a.PartitionKey + " in (" + expr + ")"

	rewritten, err := injectPredicate(sql, predicate)
	if err != nil {
		return Result{}, err
	}

	result.Query = rewritten

	return result, nil
}

func hashesOf(frags []queryproc.Fragment) []string {
	out := make([]string, len(frags))
	for i, f := range frags {
		out[i] = f.Hash
	}

	return out
}

// renderMembershipPredicate builds `partitionKey IN (...)` from an
// intersected GetResult, or the unsatisfiable `FALSE` predicate per
// spec.md §4.3's empty-intersection rewrite policy.
func (a *Applier) renderMembershipPredicate(ctx context.Context, res cachecontract.GetResult) (string, error) {
	switch {
	case res.Explicit != nil:
		members := res.Explicit.Members()
		if len(members) == 0 {
			return "false", nil
		}

		dt := res.Explicit.Datatype

		if a.Registry != nil {
			if entry, err := a.Registry.Lookup(ctx, a.PartitionKey); err == nil {
				dt = entry.Datatype
			}
		}

		parts := make([]string, len(members))
		for i, m := range members {
			parts[i] = formatValue(m, dt)
		}

		return a.PartitionKey + " in (" + strings.Join(parts, ", ") + ")", nil
	case res.Bitmap != nil:
		members := res.Bitmap.Members()
		if len(members) == 0 {
			return "false", nil
		}

		parts := make([]string, len(members))
		for i, m := range members {
			parts[i] = strconv.FormatUint(uint64(m), 10)
		}

		return a.PartitionKey + " in (" + strings.Join(parts, ", ") + ")", nil
	default:
		return "false", nil
	}
}

func formatValue(v cachecontract.PartitionValue, dt cachecontract.Datatype) string {
	switch dt {
	case cachecontract.Integer, cachecontract.Float:
		return string(v)
	case cachecontract.Text, cachecontract.Timestamp:
		return "'" + strings.ReplaceAll(string(v), "'", "''") + "'"
	default:
		return "'" + strings.ReplaceAll(string(v), "'", "''") + "'"
	}
}

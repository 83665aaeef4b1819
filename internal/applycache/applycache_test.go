package applycache_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MPoppinga/partitioncache/internal/applycache"
	"github.com/MPoppinga/partitioncache/internal/cachecontract"
	"github.com/MPoppinga/partitioncache/internal/cachecontract/backend/memory"
	"github.com/MPoppinga/partitioncache/internal/queryproc"
)

func fragmentHash(t *testing.T, sql, partitionKey string) string {
	t.Helper()

	frags, err := queryproc.GenerateFragments(sql, partitionKey, queryproc.Options{})
	require.NoError(t, err)
	require.Len(t, frags, 1)

	return frags[0].Hash
}

func TestApplyRewritesQueryOnHit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sql := "SELECT * FROM orders o WHERE o.status = 'open'"
	hash := fragmentHash(t, sql, "region_id")

	backend := memory.New()
	set := cachecontract.NewExplicitSet(cachecontract.Integer)
	set.Add("1")
	set.Add("2")
	require.NoError(t, backend.SetSet(ctx, "region_id", hash, set))

	a := applycache.New(backend, nil, "region_id")

	result, err := a.Apply(ctx, sql, queryproc.Options{})
	require.NoError(t, err)
	require.Equal(t, 1, result.HitCount)
	require.Equal(t, 1, result.FragmentCount)
	require.Contains(t, result.Query, "region_id in (1, 2)")
	require.Contains(t, result.Query, "WHERE")
	require.Contains(t, result.Query, "and (")
}

func TestApplyLeavesQueryUnchangedOnMiss(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sql := "SELECT * FROM orders o WHERE o.status = 'open'"

	backend := memory.New()
	a := applycache.New(backend, nil, "region_id")

	result, err := a.Apply(ctx, sql, queryproc.Options{})
	require.NoError(t, err)
	require.Equal(t, 0, result.HitCount)
	require.Equal(t, sql, result.Query)
}

func TestApplyEmptyIntersectionYieldsUnsatisfiablePredicate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sql := "SELECT o.region_id FROM orders o JOIN customer c ON o.cust_id = c.id " +
		"WHERE o.status = 'open' AND c.segment = 'BUILDING'"
	opts := queryproc.Options{FollowGraph: true}

	frags, err := queryproc.GenerateFragments(sql, "region_id", opts)
	require.NoError(t, err)
	require.Len(t, frags, 2)

	// Two present fragments with disjoint values: the intersection is a
	// genuinely empty set, not a null-marker.
	backend := memory.New()
	require.NoError(t, backend.SetSet(ctx, "region_id", frags[0].Hash,
		cachecontract.NewExplicitSet(cachecontract.Integer, "1", "2")))
	require.NoError(t, backend.SetSet(ctx, "region_id", frags[1].Hash,
		cachecontract.NewExplicitSet(cachecontract.Integer, "3", "4")))

	a := applycache.New(backend, nil, "region_id")

	result, err := a.Apply(ctx, sql, opts)
	require.NoError(t, err)
	require.Equal(t, 2, result.HitCount)
	require.Contains(t, result.Query, "and (false)")
}

func TestApplyAddsWhereClauseWhenQueryHasNone(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sql := "SELECT o.region_id FROM orders o"
	hash := fragmentHash(t, sql, "region_id")

	backend := memory.New()
	set := cachecontract.NewExplicitSet(cachecontract.Integer)
	set.Add("7")
	require.NoError(t, backend.SetSet(ctx, "region_id", hash, set))

	a := applycache.New(backend, nil, "region_id")

	result, err := a.Apply(ctx, sql, queryproc.Options{})
	require.NoError(t, err)
	require.Contains(t, result.Query, "where (region_id in (7))")
}

func TestApplyTreatsNullMarkerAsNoConstraint(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sql := "SELECT * FROM orders o WHERE o.status = 'open'"
	hash := fragmentHash(t, sql, "region_id")

	backend := memory.New()
	require.NoError(t, backend.SetNull(ctx, "region_id", hash))

	a := applycache.New(backend, nil, "region_id")

	result, err := a.Apply(ctx, sql, queryproc.Options{})
	require.NoError(t, err)
	require.Equal(t, 1, result.HitCount)
	require.Equal(t, sql, result.Query)
}

func TestApplyLazyRequiresLazyCapableBackend(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sql := "SELECT * FROM orders o WHERE o.status = 'open'"

	backend := memory.New()
	a := applycache.New(backend, nil, "region_id")

	_, err := a.ApplyLazy(ctx, sql, queryproc.Options{})
	require.Error(t, err)
}

func TestApplyRespectsRegisteredTextDatatype(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sql := "SELECT * FROM orders o WHERE o.status = 'open'"
	hash := fragmentHash(t, sql, "region_id")

	backend := memory.New()
	set := cachecontract.NewExplicitSet(cachecontract.Text)
	set.Add("north")
	require.NoError(t, backend.SetSet(ctx, "region_id", hash, set))

	registry := cachecontract.NewRegistry(backend)
	require.NoError(t, registry.Register(ctx, cachecontract.Entry{Partition: "region_id", Datatype: cachecontract.Text}))

	a := applycache.New(backend, registry, "region_id")

	result, err := a.Apply(ctx, sql, queryproc.Options{})
	require.NoError(t, err)
	require.Contains(t, result.Query, "region_id in ('north')")
}

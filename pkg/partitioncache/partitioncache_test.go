package partitioncache_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MPoppinga/partitioncache/internal/cachecontract"
	"github.com/MPoppinga/partitioncache/internal/cachecontract/backend/memory"
	"github.com/MPoppinga/partitioncache/pkg/partitioncache"
)

func TestTrivialHitEndToEnd(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	handler := memory.New()

	require.NoError(t, partitioncache.CreateCache(ctx, handler, "region_id", partitioncache.Integer, 0))

	seedSQL := "SELECT DISTINCT region_id FROM customer WHERE c_mktsegment = 'BUILDING'"
	frags, err := partitioncache.GenerateFragments(seedSQL, "region_id", partitioncache.Options{})
	require.NoError(t, err)
	require.Len(t, frags, 1)

	set := cachecontract.NewExplicitSet(cachecontract.Integer)
	set.Add("1")
	set.Add("3")
	set.Add("7")
	require.NoError(t, handler.SetSet(ctx, "region_id", frags[0].Hash, set))

	registry := cachecontract.NewRegistry(handler)
	require.NoError(t, registry.Register(ctx, cachecontract.Entry{Partition: "region_id", Datatype: cachecontract.Integer}))

	q := "SELECT c_mktsegment, COUNT(*) FROM customer WHERE c_mktsegment = 'BUILDING' GROUP BY c_mktsegment ORDER BY c_mktsegment"

	result, err := partitioncache.Apply(ctx, handler, registry, q, "region_id", partitioncache.Options{})
	require.NoError(t, err)
	require.Equal(t, 1, result.HitCount)
	require.Equal(t, 1, result.FragmentCount)
	require.Contains(t, result.Query, "region_id in (1, 3, 7)")
}

func TestTwoFragmentIntersectionEndToEnd(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	handler := memory.New()

	require.NoError(t, partitioncache.CreateCache(ctx, handler, "region_id", partitioncache.Integer, 0))

	sql := "SELECT o.region_id FROM orders o JOIN customers c ON o.customer_id = c.id " +
		"WHERE o.status = 'open' AND c.segment = 'BUILDING'"

	opts := partitioncache.Options{FollowGraph: true}

	frags, err := partitioncache.GenerateFragments(sql, "region_id", opts)
	require.NoError(t, err)
	require.Len(t, frags, 2)

	first := cachecontract.NewExplicitSet(cachecontract.Integer)
	first.Add("1")
	first.Add("2")
	first.Add("3")
	first.Add("4")
	require.NoError(t, handler.SetSet(ctx, "region_id", frags[0].Hash, first))

	second := cachecontract.NewExplicitSet(cachecontract.Integer)
	second.Add("3")
	second.Add("4")
	second.Add("5")
	require.NoError(t, handler.SetSet(ctx, "region_id", frags[1].Hash, second))

	registry := cachecontract.NewRegistry(handler)
	require.NoError(t, registry.Register(ctx, cachecontract.Entry{Partition: "region_id", Datatype: cachecontract.Integer}))

	result, err := partitioncache.Apply(ctx, handler, registry, sql, "region_id", opts)
	require.NoError(t, err)
	require.Equal(t, 2, result.HitCount)
	require.Equal(t, 2, result.FragmentCount)
	require.Contains(t, result.Query, "region_id in (3, 4)")
}

func TestNullMarkerTreatedAsNoConstraintEndToEnd(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	handler := memory.New()

	require.NoError(t, partitioncache.CreateCache(ctx, handler, "region_id", partitioncache.Integer, 0))

	sql := "SELECT * FROM orders o WHERE o.status = 'cancelled'"

	frags, err := partitioncache.GenerateFragments(sql, "region_id", partitioncache.Options{})
	require.NoError(t, err)
	require.Len(t, frags, 1)

	require.NoError(t, handler.SetNull(ctx, "region_id", frags[0].Hash))

	registry := cachecontract.NewRegistry(handler)
	require.NoError(t, registry.Register(ctx, cachecontract.Entry{Partition: "region_id", Datatype: cachecontract.Integer}))

	result, err := partitioncache.Apply(ctx, handler, registry, sql, "region_id", partitioncache.Options{})
	require.NoError(t, err)
	require.Equal(t, 1, result.HitCount)
	require.Equal(t, sql, result.Query)
}

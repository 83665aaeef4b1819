package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MPoppinga/partitioncache/internal/cachecontract"
	"github.com/MPoppinga/partitioncache/internal/cachecontract/backend/memory"
)

func TestGetMissOnUnknownHash(t *testing.T) {
	ctx := context.Background()
	b := memory.New()

	res, err := b.Get(ctx, "region_id", "deadbeef")
	require.NoError(t, err)
	require.Equal(t, cachecontract.Miss, res.Kind)

	exists, err := b.Exists(ctx, "region_id", "deadbeef")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestSetSetThenGetIsHit(t *testing.T) {
	ctx := context.Background()
	b := memory.New()

	set := cachecontract.NewExplicitSet(cachecontract.Integer, "1", "2", "3")
	require.NoError(t, b.SetSet(ctx, "region_id", "h1", set))

	res, err := b.Get(ctx, "region_id", "h1")
	require.NoError(t, err)
	require.Equal(t, cachecontract.Hit, res.Kind)
	require.Equal(t, []cachecontract.PartitionValue{"1", "2", "3"}, res.Explicit.Members())
}

func TestSetSetWithEmptyValuesStoresNull(t *testing.T) {
	ctx := context.Background()
	b := memory.New()

	require.NoError(t, b.SetSet(ctx, "region_id", "h1", cachecontract.NewExplicitSet(cachecontract.Integer)))

	res, err := b.Get(ctx, "region_id", "h1")
	require.NoError(t, err)
	require.Equal(t, cachecontract.Null, res.Kind)
}

func TestSetBitmapIsUnsupported(t *testing.T) {
	ctx := context.Background()
	b := memory.New()

	err := b.SetBitmap(ctx, "region_id", "h1", cachecontract.NewBitmapSet(16))
	require.Error(t, err)
}

func TestGetIntersectedTwoFragments(t *testing.T) {
	ctx := context.Background()
	b := memory.New()

	require.NoError(t, b.SetSet(ctx, "region_id", "h1",
		cachecontract.NewExplicitSet(cachecontract.Integer, "1", "2", "3", "4")))
	require.NoError(t, b.SetSet(ctx, "region_id", "h2",
		cachecontract.NewExplicitSet(cachecontract.Integer, "3", "4", "5")))

	res, count, err := b.GetIntersected(ctx, "region_id", []string{"h1", "h2"})
	require.NoError(t, err)
	require.Equal(t, cachecontract.Hit, res.Kind)
	require.Equal(t, 2, count)
	require.Equal(t, []cachecontract.PartitionValue{"3", "4"}, res.Explicit.Members())
}

func TestGetIntersectedSkipsMissingFragments(t *testing.T) {
	ctx := context.Background()
	b := memory.New()

	require.NoError(t, b.SetSet(ctx, "region_id", "h1",
		cachecontract.NewExplicitSet(cachecontract.Integer, "1", "2")))

	res, count, err := b.GetIntersected(ctx, "region_id", []string{"h1", "does-not-exist"})
	require.NoError(t, err)
	require.Equal(t, cachecontract.Hit, res.Kind)
	require.Equal(t, 1, count)
	require.Equal(t, []cachecontract.PartitionValue{"1", "2"}, res.Explicit.Members())
}

func TestGetIntersectedAllMissingIsMiss(t *testing.T) {
	ctx := context.Background()
	b := memory.New()

	res, count, err := b.GetIntersected(ctx, "region_id", []string{"h1", "h2"})
	require.NoError(t, err)
	require.Equal(t, cachecontract.Miss, res.Kind)
	require.Equal(t, 0, count)
}

func TestFilterExistingAndGetAllKeysAndDelete(t *testing.T) {
	ctx := context.Background()
	b := memory.New()

	require.NoError(t, b.SetSet(ctx, "region_id", "h1",
		cachecontract.NewExplicitSet(cachecontract.Integer, "1")))
	require.NoError(t, b.SetNull(ctx, "region_id", "h2"))

	// h2 is a null-marker: present for Exists/GetAllKeys, but
	// filter_existing reports only non-null entries.
	existing, err := b.FilterExisting(ctx, "region_id", []string{"h1", "h2", "h3"})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"h1"}, existing)

	keys, err := b.GetAllKeys(ctx, "region_id")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"h1", "h2"}, keys)

	require.NoError(t, b.Delete(ctx, "region_id", "h1"))

	res, err := b.Get(ctx, "region_id", "h1")
	require.NoError(t, err)
	require.Equal(t, cachecontract.Miss, res.Kind)
}

func TestCapabilitiesAdvertiseExplicitSetOnly(t *testing.T) {
	b := memory.New()

	caps := b.Capabilities()
	require.Equal(t, cachecontract.ExplicitSetEncoding, caps.Encoding)
	require.False(t, caps.Lazy)
}

package cachecontract_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MPoppinga/partitioncache/internal/cachecontract"
	"github.com/MPoppinga/partitioncache/internal/cachecontract/backend/memory"
)

func TestRegistryRegisterAndLookup(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	registry := cachecontract.NewRegistry(backend)

	bitsize := uint64(1024)
	require.NoError(t, registry.Register(ctx, cachecontract.Entry{
		Partition: "region_id",
		Datatype:  cachecontract.Integer,
		Bitsize:   &bitsize,
	}))

	entry, err := registry.Lookup(ctx, "region_id")
	require.NoError(t, err)
	require.Equal(t, "region_id", entry.Partition)
	require.Equal(t, cachecontract.Integer, entry.Datatype)
	require.NotNil(t, entry.Bitsize)
	require.Equal(t, uint64(1024), *entry.Bitsize)
}

func TestRegistryLookupUnregisteredPartitionFails(t *testing.T) {
	ctx := context.Background()
	registry := cachecontract.NewRegistry(memory.New())

	_, err := registry.Lookup(ctx, "does_not_exist")
	require.Error(t, err)

	var notRegistered *cachecontract.NotRegisteredError
	require.ErrorAs(t, err, &notRegistered)
}

func TestRegistryCheckDatatypeMismatch(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	registry := cachecontract.NewRegistry(backend)

	require.NoError(t, registry.Register(ctx, cachecontract.Entry{
		Partition: "region_id",
		Datatype:  cachecontract.Integer,
	}))

	err := registry.CheckDatatype(ctx, "region_id", cachecontract.Text)
	require.Error(t, err)

	var mismatch *cachecontract.DatatypeMismatchError
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, cachecontract.Integer, mismatch.Want)
	require.Equal(t, cachecontract.Text, mismatch.Got)

	require.NoError(t, registry.CheckDatatype(ctx, "region_id", cachecontract.Integer))
}

// bitmapOnlyHandler advertises bitmap encoding (rejecting SetSet the way
// the real bitmap backends do) but offers an explicit-set view of the same
// store, as the bitmap backends do for registry persistence.
type bitmapOnlyHandler struct {
	cachecontract.Handler
	view cachecontract.Handler
}

func (h *bitmapOnlyHandler) Capabilities() cachecontract.Capabilities {
	return cachecontract.Capabilities{Encoding: cachecontract.BitmapEncoding}
}

func (h *bitmapOnlyHandler) SetSet(context.Context, string, string, *cachecontract.ExplicitSet) error {
	return &cachecontract.DatatypeMismatchError{}
}

func (h *bitmapOnlyHandler) ExplicitSetView() cachecontract.Handler {
	return h.view
}

func TestRegistryRoutesToExplicitSetViewOfBitmapHandler(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	registry := cachecontract.NewRegistry(&bitmapOnlyHandler{Handler: store, view: store})

	bitsize := uint64(2048)
	require.NoError(t, registry.Register(ctx, cachecontract.Entry{
		Partition: "region_id",
		Datatype:  cachecontract.Integer,
		Bitsize:   &bitsize,
	}))

	entry, err := registry.Lookup(ctx, "region_id")
	require.NoError(t, err)
	require.Equal(t, uint64(2048), *entry.Bitsize)
}

func TestRegistryRegisterReplacesExistingEntry(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	registry := cachecontract.NewRegistry(backend)

	require.NoError(t, registry.Register(ctx, cachecontract.Entry{
		Partition: "region_id",
		Datatype:  cachecontract.Integer,
	}))
	require.NoError(t, registry.Register(ctx, cachecontract.Entry{
		Partition: "region_id",
		Datatype:  cachecontract.Text,
	}))

	entry, err := registry.Lookup(ctx, "region_id")
	require.NoError(t, err)
	require.Equal(t, cachecontract.Text, entry.Datatype)
}

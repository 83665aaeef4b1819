package cachecontract_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MPoppinga/partitioncache/internal/cachecontract"
)

func TestExplicitSetIntersectIsMonotone(t *testing.T) {
	a := cachecontract.NewExplicitSet(cachecontract.Integer, "1", "2", "3", "4")
	b := cachecontract.NewExplicitSet(cachecontract.Integer, "3", "4", "5")

	got := a.Intersect(b)

	require.Equal(t, []cachecontract.PartitionValue{"3", "4"}, got.Members())

	c := cachecontract.NewExplicitSet(cachecontract.Integer, "4")
	shrunk := got.Intersect(c)

	require.True(t, shrunk.Len() <= got.Len())
	require.Equal(t, []cachecontract.PartitionValue{"4"}, shrunk.Members())
}

func TestExplicitSetIntersectWithEmptyIsEmpty(t *testing.T) {
	a := cachecontract.NewExplicitSet(cachecontract.Integer, "1", "2")
	empty := cachecontract.NewExplicitSet(cachecontract.Integer)

	got := a.Intersect(empty)

	require.True(t, got.IsEmpty())
}

func TestExplicitSetIntersectWithNilYieldsEmptySet(t *testing.T) {
	var nilSet *cachecontract.ExplicitSet

	a := cachecontract.NewExplicitSet(cachecontract.Text, "x")

	got := a.Intersect(nilSet)

	require.True(t, got.IsEmpty())
}

func TestExplicitSetAddAndHas(t *testing.T) {
	s := cachecontract.NewExplicitSet(cachecontract.Text)
	require.True(t, s.IsEmpty())

	s.Add("a")
	s.Add("b")

	require.False(t, s.IsEmpty())
	require.True(t, s.Has("a"))
	require.False(t, s.Has("z"))
	require.Equal(t, 2, s.Len())
}

func TestExplicitSetMembersAreSorted(t *testing.T) {
	s := cachecontract.NewExplicitSet(cachecontract.Text, "banana", "apple", "cherry")

	require.Equal(t, []cachecontract.PartitionValue{"apple", "banana", "cherry"}, s.Members())
}

func TestBitmapSetAddRejectsOutOfDomain(t *testing.T) {
	b := cachecontract.NewBitmapSet(1024)

	require.NoError(t, b.Add(1023))

	err := b.Add(2048)
	require.Error(t, err)

	var outOfDomain *cachecontract.OutOfDomainError
	require.ErrorAs(t, err, &outOfDomain)
	require.Equal(t, uint64(2048), outOfDomain.Value)
	require.Equal(t, uint64(1024), outOfDomain.Bitsize)

	require.Equal(t, 1, b.Len())
}

func TestBitmapSetIntersect(t *testing.T) {
	a := cachecontract.NewBitmapSet(16)
	require.NoError(t, a.Add(1))
	require.NoError(t, a.Add(2))
	require.NoError(t, a.Add(3))

	b := cachecontract.NewBitmapSet(16)
	require.NoError(t, b.Add(2))
	require.NoError(t, b.Add(3))
	require.NoError(t, b.Add(4))

	got := a.Intersect(b)

	require.Equal(t, []uint32{2, 3}, got.Members())
}

func TestBitmapSetMarshalRoundTrip(t *testing.T) {
	b := cachecontract.NewBitmapSet(64)
	require.NoError(t, b.Add(1))
	require.NoError(t, b.Add(10))
	require.NoError(t, b.Add(63))

	data, err := b.MarshalBinary()
	require.NoError(t, err)

	restored, err := cachecontract.BitmapSetFromBytes(64, data)
	require.NoError(t, err)

	require.Equal(t, b.Members(), restored.Members())
}

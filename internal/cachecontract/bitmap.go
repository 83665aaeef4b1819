package cachecontract

import (
	"github.com/RoaringBitmap/roaring/v2"
)

// BitmapSet is the bitmap value encoding: only integer partition keys with a
// declared bitsize N, domain [0, N). Backed by a Roaring bitmap rather than
// a raw fixed-width bit string so sparse domains stay compact in memory;
// Bitsize still bounds the legal domain independent of how densely it's
// populated.
type BitmapSet struct {
	Bitsize uint64
	bitmap  *roaring.Bitmap
}

func NewBitmapSet(bitsize uint64) *BitmapSet {
	return &BitmapSet{Bitsize: bitsize, bitmap: roaring.New()}
}

// Add inserts v, returning OutOfDomainError if v >= Bitsize.
func (b *BitmapSet) Add(v uint32) error {
	if uint64(v) >= b.Bitsize {
		return &OutOfDomainError{Value: uint64(v), Bitsize: b.Bitsize}
	}

	b.bitmap.Add(v)

	return nil
}

func (b *BitmapSet) Len() int {
	if b == nil || b.bitmap == nil {
		return 0
	}

	return int(b.bitmap.GetCardinality())
}

func (b *BitmapSet) IsEmpty() bool {
	return b.Len() == 0
}

func (b *BitmapSet) Members() []uint32 {
	if b == nil || b.bitmap == nil {
		return nil
	}

	return b.bitmap.ToArray()
}

// Intersect returns the bitwise AND of b and other.
func (b *BitmapSet) Intersect(other *BitmapSet) *BitmapSet {
	bitsize := b.Bitsize
	if other != nil && other.Bitsize > bitsize {
		bitsize = other.Bitsize
	}

	result := NewBitmapSet(bitsize)

	if b == nil || other == nil || b.bitmap == nil || other.bitmap == nil {
		return result
	}

	result.bitmap = roaring.And(b.bitmap, other.bitmap)

	return result
}

// MarshalBinary serializes the bitmap in Roaring's own format, the form the
// redis bitmap backend persists. The postgres bitmap backend stores a
// BIT VARYING column instead and does not use this encoding.
func (b *BitmapSet) MarshalBinary() ([]byte, error) {
	if b.bitmap == nil {
		b.bitmap = roaring.New()
	}

	return b.bitmap.ToBytes()
}

func BitmapSetFromBytes(bitsize uint64, data []byte) (*BitmapSet, error) {
	bm := roaring.New()
	if len(data) > 0 {
		if _, err := bm.FromBuffer(data); err != nil {
			return nil, err
		}
	}

	return &BitmapSet{Bitsize: bitsize, bitmap: bm}, nil
}

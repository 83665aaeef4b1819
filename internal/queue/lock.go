package queue

import "hash/fnv"

// lockKey derives the 64-bit advisory-lock key for a (partition, hash)
// pair. fnv-1a is used purely as a deterministic digest, not for its
// cryptographic properties.
func lockKey(partition, hash string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(partition))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(hash))

	return int64(h.Sum64()) //nolint:gosec
}

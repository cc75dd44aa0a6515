// Package util contains internal helpers (hashing, padding, core counts).
//revive:disable:var-naming  // allow 'util' as an internal helpers package name
package util

const (
	fnvOffset64 = 1469598103934665603
	fnvPrime64  = 1099511628211
)

// BlockHash hashes a (device, block) pair with 64-bit FNV-1a.
// The pair is folded into one 64-bit word (device in the high half) and
// hashed byte-by-byte, so adjacent block numbers still spread across
// buckets. No allocation.
func BlockHash(dev, blockno uint32) uint64 {
	u := uint64(dev)<<32 | uint64(blockno)
	h := uint64(fnvOffset64)
	for i := 0; i < 8; i++ {
		h ^= uint64(byte(u))
		h *= fnvPrime64
		u >>= 8
	}
	return h
}

//revive:disable:var-naming  // allow 'util' as an internal helpers package name
package util

import "runtime"

// IsPowerOfTwo reports whether x is a power of two (> 0).
func IsPowerOfTwo(x uint64) bool {
	return x != 0 && (x&(x-1)) == 0
}

// ReasonableCoreCount picks a practical default number of per-core free
// lists from CPU parallelism. One list per P keeps the common path
// lock-local; the clamp bounds memory overhead on very wide machines.
func ReasonableCoreCount() int {
	p := runtime.GOMAXPROCS(0)
	if p < 1 {
		p = 1
	}
	if p > 64 {
		p = 64
	}
	return p
}

// BucketIndex maps a 64-bit hash to a bucket index.
// Bucket counts are typically small primes (non power of two), so the
// modulo path is the common one; the mask path is kept for callers that
// do pick powers of two.
func BucketIndex(hash uint64, buckets int) int {
	if buckets <= 1 {
		return 0
	}
	if IsPowerOfTwo(uint64(buckets)) {
		return int(hash & uint64(buckets-1))
	}
	return int(hash % uint64(buckets))
}

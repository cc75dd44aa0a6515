package bcache

import "go.uber.org/zap"

// Device is the external block driver the cache delegates transfers to.
// ReadBlock fills p with the block's on-disk contents; WriteBlock flushes
// p to storage. Both are called with the slot's sleep lock held, so the
// driver never sees concurrent transfers for the same slot.
type Device interface {
	ReadBlock(dev, blockno uint32, p []byte) error
	WriteBlock(dev, blockno uint32, p []byte) error
}

// Clock provides time in UnixNano; useful for deterministic tests.
type Clock interface{ NowUnixNano() int64 }

// Metrics exposes cache-level observability hooks.
// A NoopMetrics implementation is provided and used by default.
type Metrics interface {
	Hit()
	Miss()
	// Evict reports a victim being recycled; migrated is true when the
	// victim moved from a foreign bucket to the home bucket.
	Evict(migrated bool)
}

// Options configures the cache. Zero values are safe; defaults are
// applied in New():
//   - Slots <= 0     => 30
//   - Buckets <= 0   => 13 (small prime: good spread at 13 locks' overhead)
//   - BlockSize <= 0 => 1024
//   - nil Metrics    => NoopMetrics
//   - nil Logger     => zap.NewNop()
//   - nil Clock      => time.Now
type Options struct {
	// Slots is the fixed size of the buffer pool. Slots are allocated
	// once and recycled forever; the pool never grows.
	Slots int

	// Buckets is the number of hash partitions (and bucket locks).
	Buckets int

	// BlockSize is the payload size of every slot, in bytes. It must
	// match the device's block size.
	BlockSize int

	// Device performs the actual block I/O. Required.
	Device Device

	Metrics Metrics
	Logger  *zap.Logger

	// Clock overrides the time source used for lastuse stamps (tests).
	Clock Clock
}

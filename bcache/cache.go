package bcache

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/IvanBrykalov/kernpool/internal/sleeplock"
	"github.com/IvanBrykalov/kernpool/internal/util"
)

const (
	// DefaultSlots matches the pool size the cache was tuned for.
	DefaultSlots = 30
	// DefaultBuckets is a small prime: enough spread for DefaultSlots
	// without paying for a lock per slot.
	DefaultBuckets = 13
	// DefaultBlockSize is the device block size assumed when none is given.
	DefaultBlockSize = 1024
)

// cache is the sharded buffer pool. Slots live in a contiguous arena and
// buckets hold arena indices, so membership changes are slice edits
// rather than pointer surgery.
type cache struct {
	slots   []Buf
	buckets []bucket

	// evictMu serializes victim selection and slot migration cache-wide.
	// Bucket locks order freely under it; it is never taken while a
	// bucket lock is held.
	evictMu sync.Mutex

	dev Device
	opt Options
	log *zap.Logger
}

// New constructs a buffer cache over the given Device.
// See Options for defaults. Panics if Options.Device is nil: the cache
// is a cache of that device's blocks, there is nothing to cache without it.
func New(opt Options) Cache {
	if opt.Device == nil {
		panic("bcache: Options.Device is required")
	}
	if opt.Slots <= 0 {
		opt.Slots = DefaultSlots
	}
	if opt.Buckets <= 0 {
		opt.Buckets = DefaultBuckets
	}
	if opt.BlockSize <= 0 {
		opt.BlockSize = DefaultBlockSize
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}

	c := &cache{
		slots:   make([]Buf, opt.Slots),
		buckets: make([]bucket, opt.Buckets),
		dev:     opt.Device,
		opt:     opt,
		log:     opt.Logger,
	}

	// One contiguous backing array for all payloads; slot i owns its
	// BlockSize window. All slots start on bucket 0 with refcnt 0 and
	// zero lastuse, so they are immediately evictable in arena order.
	backing := make([]byte, opt.Slots*opt.BlockSize)
	for i := range c.slots {
		b := &c.slots[i]
		b.data = backing[i*opt.BlockSize : (i+1)*opt.BlockSize]
		b.lk = sleeplock.New()
		c.buckets[0].ids = append(c.buckets[0].ids, int32(i))
	}

	c.log.Info("bcache: initialized",
		zap.Int("slots", opt.Slots),
		zap.Int("buckets", opt.Buckets),
		zap.Int("block_size", opt.BlockSize),
	)
	return c
}

// ---- Cache implementation ----

// Acquire implements the two-phase lookup: a bucket-local fast path for
// hits, then a globally serialized slow path that re-checks the home
// bucket before recycling a victim, so two concurrent misses for the
// same block can never install two slots.
func (c *cache) Acquire(dev, blockno uint32) *Buf {
	hi := c.bucketIndex(dev, blockno)
	home := &c.buckets[hi]

	// Fast path: resident in the home bucket.
	home.mu.Lock()
	if b := home.find(c.slots, dev, blockno); b != nil {
		b.refcnt++
		home.mu.Unlock()
		home.hits.Add(1)
		c.opt.Metrics.Hit()
		b.lk.Lock()
		return b
	}
	home.mu.Unlock()

	// Slow path. The bucket lock was dropped, so another goroutine may
	// complete the same miss before we hold evictMu; re-scan first.
	c.evictMu.Lock()

	home.mu.Lock()
	if b := home.find(c.slots, dev, blockno); b != nil {
		b.refcnt++
		home.mu.Unlock()
		c.evictMu.Unlock()
		home.hits.Add(1)
		c.opt.Metrics.Hit()
		b.lk.Lock()
		return b
	}
	home.mu.Unlock()
	home.misses.Add(1)
	c.opt.Metrics.Miss()

	// Still absent: recycle the globally least-recently-released idle
	// slot. selectVictim returns with the victim's bucket lock held.
	vid, vbi := c.selectVictim()
	if vid < 0 {
		// Fatal: a fixed pool with every slot referenced cannot serve
		// this request, now or on retry.
		c.log.Error("bcache: buffer pool exhausted",
			zap.Uint32("dev", dev),
			zap.Uint32("blockno", blockno),
		)
		panic(ErrNoBuffers)
	}
	b := &c.slots[vid]

	migrated := vbi != hi
	if migrated {
		vb := &c.buckets[vbi]
		vb.remove(vid)
		vb.mu.Unlock()
		home.mu.Lock()
		home.pushFront(vid)
	}
	// Otherwise the victim already lives in the home bucket and its lock
	// is the one selectVictim left held.

	c.log.Debug("bcache: recycling slot",
		zap.Int32("slot", vid),
		zap.Uint32("old_dev", b.dev), zap.Uint32("old_blockno", b.blockno),
		zap.Uint32("dev", dev), zap.Uint32("blockno", blockno),
		zap.Bool("migrated", migrated),
	)

	b.dev = dev
	b.blockno = blockno
	b.refcnt = 1
	b.valid = false
	home.mu.Unlock()
	c.evictMu.Unlock()
	c.opt.Metrics.Evict(migrated)

	b.lk.Lock()
	return b
}

// selectVictim scans every bucket in index order for the idle slot with
// the smallest lastuse. The lock of the bucket holding the best
// candidate so far stays held across the rest of the scan (swapped when
// a better candidate appears elsewhere), so the winner cannot be
// re-acquired out from under us. Returns (-1, -1) with no locks held if
// nothing anywhere is evictable.
//
// Ties on lastuse go to the slot met first in bucket-then-list order;
// an artifact of the traversal, not a promise.
func (c *cache) selectVictim() (victim int32, victimBucket int) {
	victim, victimBucket = -1, -1
	var best int64

	for i := range c.buckets {
		bk := &c.buckets[i]
		bk.mu.Lock()
		found := false
		for _, id := range bk.ids {
			s := &c.slots[id]
			if s.refcnt == 0 && (victim < 0 || s.lastuse < best) {
				victim, best = id, s.lastuse
				found = true
			}
		}
		if !found {
			bk.mu.Unlock()
			continue
		}
		if victimBucket >= 0 {
			c.buckets[victimBucket].mu.Unlock()
		}
		victimBucket = i
	}
	return victim, victimBucket
}

// Read implements Cache.
func (c *cache) Read(dev, blockno uint32) (*Buf, error) {
	b := c.Acquire(dev, blockno)
	if !b.valid {
		if err := c.dev.ReadBlock(dev, blockno, b.data); err != nil {
			c.Release(b)
			return nil, err
		}
		b.valid = true
	}
	return b, nil
}

// Write implements Cache.
func (c *cache) Write(b *Buf) error {
	if !b.lk.Held() {
		panic(ErrLockNotHeld)
	}
	return c.dev.WriteBlock(b.dev, b.blockno, b.data)
}

// Release implements Cache.
func (c *cache) Release(b *Buf) {
	if !b.lk.Held() {
		panic(ErrLockNotHeld)
	}
	b.lk.Unlock()

	// The slot cannot migrate while refcnt > 0, so its home bucket is
	// still the one its current tag hashes to.
	bk := &c.buckets[c.bucketIndex(b.dev, b.blockno)]
	bk.mu.Lock()
	if b.refcnt <= 0 {
		bk.mu.Unlock()
		panic(ErrRefcnt)
	}
	b.refcnt--
	if b.refcnt == 0 {
		b.lastuse = c.now()
	}
	bk.mu.Unlock()
}

// Pin implements Cache.
func (c *cache) Pin(b *Buf) {
	bk := &c.buckets[c.bucketIndex(b.dev, b.blockno)]
	bk.mu.Lock()
	b.refcnt++
	bk.mu.Unlock()
}

// Unpin implements Cache. It does not stamp recency; only Release
// counts as a use of the contents.
func (c *cache) Unpin(b *Buf) {
	bk := &c.buckets[c.bucketIndex(b.dev, b.blockno)]
	bk.mu.Lock()
	if b.refcnt <= 0 {
		bk.mu.Unlock()
		panic(ErrRefcnt)
	}
	b.refcnt--
	bk.mu.Unlock()
}

// Len implements Cache.
func (c *cache) Len() int {
	total := 0
	for i := range c.buckets {
		bk := &c.buckets[i]
		bk.mu.Lock()
		total += len(bk.ids)
		bk.mu.Unlock()
	}
	return total
}

// ---- helpers ----

func (c *cache) bucketIndex(dev, blockno uint32) int {
	return util.BucketIndex(util.BlockHash(dev, blockno), len(c.buckets))
}

func (c *cache) now() int64 {
	if c.opt.Clock != nil {
		return c.opt.Clock.NowUnixNano()
	}
	return time.Now().UnixNano()
}

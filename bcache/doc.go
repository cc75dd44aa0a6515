// Package bcache provides a fixed-size, hash-sharded block buffer cache
// with approximate-LRU eviction, modeled on the classic kernel buffer
// cache: a small pool of slots shared by every consumer of a block
// device, giving both caching and a per-block synchronization point.
//
// # Design
//
//   - Pool: all slots are allocated once in New as a contiguous arena
//     and recycled forever. Buckets store arena indices, so membership
//     changes are O(1)-ish slice edits under the bucket lock.
//
//   - Concurrency: slots are partitioned into buckets by
//     hash(dev, blockno). Each bucket has its own mutex guarding list
//     membership and the refcnt/lastuse of its slots. Payload bytes and
//     the validity flag are guarded separately by a per-slot sleep lock
//     (internal/sleeplock), which a holder may keep across device I/O.
//
//   - Eviction: misses funnel through a single cache-wide eviction lock.
//     The miss path re-scans the home bucket after taking it (another
//     goroutine may have completed the same miss in the window), then
//     scans every bucket for the idle slot with the oldest release
//     stamp, keeping only the current best candidate's bucket lock held.
//     The victim is migrated to the home bucket if it lives elsewhere,
//     retagged, and returned locked. Hits never touch the eviction lock.
//
//   - Exhaustion: a scan that finds no slot with refcnt == 0 panics with
//     ErrNoBuffers. The pool is fixed; there is no graceful degradation.
//
// # Basic usage
//
//	c := bcache.New(bcache.Options{Device: dev, Slots: 30, BlockSize: 1024})
//	b, err := c.Read(1, 5) // locked, contents valid
//	if err != nil { ... }
//	copy(b.Data(), payload)
//	if err := c.Write(b); err != nil { ... }
//	c.Release(b)
//
// Pin/Unpin adjust the reference count without the sleep lock, for
// collaborators (e.g. an in-flight device queue) that must keep a slot
// resident while not holding exclusive access.
//
// # Observability
//
// Options.Metrics receives Hit/Miss/Evict signals (NoopMetrics by
// default; see metrics/prom for a Prometheus adapter) and Options.Logger
// gets lifecycle and eviction events (zap.NewNop by default).
package bcache

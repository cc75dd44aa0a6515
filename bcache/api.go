package bcache

// Cache is a sharded block buffer cache. All methods are safe for
// concurrent use by multiple goroutines.
//
// Hits cost one bucket lock plus a sleep-lock acquisition; misses are
// serialized by a cache-wide eviction lock, so unrelated hits proceed
// unblocked while at most one victim is being selected or relocated.
type Cache interface {
	// Acquire returns the slot caching (dev, blockno), installing one on
	// miss by recycling the least-recently-released idle slot. The
	// returned slot is sleep-locked; its contents are not necessarily
	// valid. Panics with ErrNoBuffers if every slot is referenced.
	Acquire(dev, blockno uint32) *Buf

	// Read returns a locked slot with valid contents, delegating to the
	// Device on a cold slot. On a device error the slot is released and
	// the error returned.
	Read(dev, blockno uint32) (*Buf, error)

	// Write flushes the slot's contents to the Device. The caller must
	// hold the slot's sleep lock (panics with ErrLockNotHeld otherwise).
	// The lock stays held and validity is unchanged.
	Write(b *Buf) error

	// Release unlocks the slot and drops the caller's reference. When
	// the count reaches zero the slot becomes an eviction candidate,
	// stamped with the release time. Panics with ErrLockNotHeld if the
	// sleep lock is not held.
	Release(b *Buf)

	// Pin takes an extra reference without touching the sleep lock,
	// keeping the slot resident for callers that hold no lock.
	Pin(b *Buf)

	// Unpin drops a reference taken with Pin.
	Unpin(b *Buf)

	// Len returns the number of slots linked into buckets. It always
	// equals Options.Slots; anything else indicates membership
	// corruption, which makes it a cheap diagnostic.
	Len() int
}

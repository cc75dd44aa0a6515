package bcache

import "github.com/IvanBrykalov/kernpool/internal/sleeplock"

// Buf is one reusable cache slot holding one device block's contents.
// Slots are carved once in New and recycled forever by eviction; a *Buf
// handed out by Acquire/Read stays the same block until Release drops the
// last reference and eviction retags it.
//
// Locking:
//   - data and valid may only be touched by the holder of the slot's
//     sleep lock (the lock Acquire returns with).
//   - refcnt and lastuse are guarded by the lock of the bucket that
//     currently holds the slot.
type Buf struct {
	// ---- guarded by the sleep lock ----
	valid bool
	data  []byte

	// ---- guarded by the owning bucket's lock ----
	dev     uint32
	blockno uint32
	refcnt  int
	lastuse int64 // UnixNano of the release that dropped refcnt to zero

	lk *sleeplock.Mutex
}

// Dev returns the device identifier the slot is tagged with.
// Stable while the caller holds a reference.
func (b *Buf) Dev() uint32 { return b.dev }

// Blockno returns the block number the slot is tagged with.
// Stable while the caller holds a reference.
func (b *Buf) Blockno() uint32 { return b.blockno }

// Data returns the slot payload (one block). Only the sleep-lock holder
// may read or write it.
func (b *Buf) Data() []byte { return b.data }

// Valid reports whether the payload reflects on-disk contents.
// Only meaningful to the sleep-lock holder.
func (b *Buf) Valid() bool { return b.valid }

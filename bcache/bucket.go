package bcache

import (
	"sync"

	"github.com/IvanBrykalov/kernpool/internal/util"
)

// bucket is one hash partition of the slot pool. It owns the membership
// list (arena indices, head at ids[0]) and guards the refcnt/lastuse of
// every slot currently on it. Slots migrate between buckets only under
// the cache-wide eviction lock.
type bucket struct {
	mu  sync.Mutex
	ids []int32

	// hot counters on their own cache line
	_      util.CacheLinePad
	hits   util.PaddedAtomicUint64
	misses util.PaddedAtomicUint64
}

// find returns the resident slot tagged (dev, blockno), or nil.
// Caller holds bk.mu.
func (bk *bucket) find(slots []Buf, dev, blockno uint32) *Buf {
	for _, id := range bk.ids {
		b := &slots[id]
		if b.dev == dev && b.blockno == blockno {
			return b
		}
	}
	return nil
}

// pushFront inserts the slot at the head of the membership list.
// Caller holds bk.mu.
func (bk *bucket) pushFront(id int32) {
	bk.ids = append(bk.ids, 0)
	copy(bk.ids[1:], bk.ids)
	bk.ids[0] = id
}

// remove unlinks the slot from the membership list.
// Caller holds bk.mu; the id must be present.
func (bk *bucket) remove(id int32) {
	for i, v := range bk.ids {
		if v == id {
			bk.ids = append(bk.ids[:i], bk.ids[i+1:]...)
			return
		}
	}
	panic("bcache: slot missing from its bucket")
}

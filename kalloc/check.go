package kalloc

import (
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
)

// checker tracks the set of free page indices in a compressed bitmap so
// Free can detect a page that is already free and Alloc can assert it
// only hands out pages the set knows about. It sits beside the per-core
// lists rather than inside them because free-set membership is a global
// fact: a page freed on one core may be sitting free on another.
type checker struct {
	mu   sync.Mutex
	free *roaring.Bitmap
}

func newChecker(pages int) *checker {
	k := &checker{free: roaring.New()}
	k.free.AddRange(0, uint64(pages))
	return k
}

// onFree records the page as free. Panics with ErrDoubleFree if it
// already was.
func (k *checker) onFree(idx uint32) {
	k.mu.Lock()
	ok := k.free.CheckedAdd(idx)
	k.mu.Unlock()
	if !ok {
		panic(ErrDoubleFree)
	}
}

// onAlloc records the page as in use. A page coming off a free list must
// be in the set; anything else means the lists and the set disagree.
func (k *checker) onAlloc(idx uint32) {
	k.mu.Lock()
	ok := k.free.CheckedRemove(idx)
	k.mu.Unlock()
	if !ok {
		panic("kalloc: free lists and free set disagree")
	}
}

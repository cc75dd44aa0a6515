package kalloc

import "errors"

// Fatal conditions. The allocator panics with these values; tests and
// crash handlers can identify the cause with errors.Is on the recovered
// value. Running out of memory is NOT on this list — Alloc reports that
// as an ordinary (0, false).
var (
	// ErrInvalidFree means Free (or Bytes) was handed an address that is
	// not page-aligned or lies outside the managed range. A kernel bug,
	// detected before any list is touched.
	ErrInvalidFree = errors.New("kalloc: invalid page address")

	// ErrDoubleFree means Free was called for a page that is already on
	// a free list.
	ErrDoubleFree = errors.New("kalloc: page freed twice")

	// ErrUnpinned means a Core guard was used after Unpin. The core
	// identity a guard carries is only valid between Pin and Unpin.
	ErrUnpinned = errors.New("kalloc: core guard used after Unpin")
)

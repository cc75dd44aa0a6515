package bcache

import "errors"

// Fatal conditions. The cache panics with these values (it cannot limp
// along after any of them); tests and crash handlers can identify the
// cause with errors.Is on the recovered value.
var (
	// ErrNoBuffers means a full victim scan found no slot with a zero
	// reference count. The pool is sized by configuration, so this is a
	// capacity-design violation, not a transient state.
	ErrNoBuffers = errors.New("bcache: no free buffers")

	// ErrLockNotHeld means Write or Release was called without the
	// slot's sleep lock held. A caller programming error.
	ErrLockNotHeld = errors.New("bcache: buffer lock not held")

	// ErrRefcnt means a Release or Unpin would drive a slot's reference
	// count negative.
	ErrRefcnt = errors.New("bcache: refcnt underflow")
)

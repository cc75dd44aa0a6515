// Package kalloc provides a physical page allocator with one free list
// per processor core and work stealing between them, modeled on the
// kernel allocator pattern where a single global free list would
// serialize every core in the machine.
//
// # Design
//
//   - Pages: a contiguous arena is carved into fixed-size pages at init.
//     Pages are addressed by their simulated physical address (Addr);
//     Bytes gives the payload view of an owned page.
//
//   - Per-core lists: each core owns a stack of free page indices under
//     its own lock, cache-line padded from its neighbours. Allocate and
//     free touch only the calling core's lock in the common case.
//
//   - Stealing: an empty list replenishes by visiting peers in index
//     order, locking one at a time, and moving up to StealQuota pages.
//     The local lock is not held while a peer lock is, so at most one
//     free-list lock is ever held and starved cores cannot deadlock
//     each other.
//
//   - Core identity: callers obtain a Core guard via Pin (round-robin)
//     or PinTo (explicit) and issue Alloc/Free through it. The guard is
//     the moral equivalent of running with migration disabled — the
//     core identity is pinned for exactly as long as the guard lives.
//
//   - Sentinels: every allocated page comes back filled with
//     AllocSentinel and every freed page is stamped with FreeSentinel,
//     so use of memory outside its lifetime reads as garbage. A
//     roaring-bitmap free set additionally catches double frees
//     (Options.DisableChecks turns the set off, never the stamps).
//
// Out-of-memory is the one recoverable failure: Alloc returns
// (0, false) and the caller decides. Freeing a bad address or freeing
// twice panics — those are bugs in the caller, not load conditions.
//
// # Usage
//
//	a := kalloc.New(kalloc.Options{Cores: 8, Pages: 4096})
//	g := a.Pin()
//	defer g.Unpin()
//	addr, ok := g.Alloc()
//	if !ok {
//		// out of memory; fail the request
//	}
//	copy(a.Bytes(addr), payload)
//	g.Free(addr)
package kalloc

package kalloc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestAllocator(t *testing.T, cores, pages int) *Allocator {
	t.Helper()
	return New(Options{Cores: cores, Pages: pages, PageSize: 64})
}

func TestAlloc_SentinelPatterns(t *testing.T) {
	t.Parallel()

	a := newTestAllocator(t, 1, 4)
	g := a.PinTo(0)
	defer g.Unpin()

	addr, ok := g.Alloc()
	require.True(t, ok)
	for i, b := range a.Bytes(addr) {
		require.Equal(t, AllocSentinel, b, "byte %d after Alloc", i)
	}

	// Scribble, then free: the stamp must cover our writes.
	copy(a.Bytes(addr), []byte("dangling payload"))
	idx := a.indexOf(addr)
	g.Free(addr)
	for i, b := range a.pageBytes(idx) {
		require.Equal(t, FreeSentinel, b, "byte %d after Free", i)
	}
}

// An empty core replenishes from a peer holding plenty: one steal moves
// StealQuota pages, the allocation consumes one of them.
func TestAlloc_StealsFromPeer(t *testing.T) {
	t.Parallel()

	a := newTestAllocator(t, 2, 200) // 100 pages per core
	g0 := a.PinTo(0)
	defer g0.Unpin()

	held := make([]Addr, 0, 100)
	for i := 0; i < 100; i++ {
		addr, ok := g0.Alloc()
		require.True(t, ok, "alloc %d from local list", i)
		held = append(held, addr)
	}

	st := a.Stats()
	require.Equal(t, 0, st[0].FreePages, "core 0 drained")
	require.Equal(t, 100, st[1].FreePages, "core 1 untouched")

	// The 101st allocation steals.
	addr, ok := g0.Alloc()
	require.True(t, ok)
	held = append(held, addr)

	st = a.Stats()
	require.Equal(t, StealQuota-1, st[0].FreePages)
	require.Equal(t, 100-StealQuota, st[1].FreePages)
	require.Equal(t, uint64(StealQuota), st[0].Steals)

	// Conservation: free everything and the world is whole again.
	for _, addr := range held {
		g0.Free(addr)
	}
	require.Equal(t, 200, a.FreePages())
}

func TestAlloc_OutOfMemoryIsRecoverable(t *testing.T) {
	t.Parallel()

	a := newTestAllocator(t, 2, 8)
	g := a.PinTo(0)
	defer g.Unpin()

	held := make([]Addr, 0, 8)
	for i := 0; i < 8; i++ {
		addr, ok := g.Alloc()
		require.True(t, ok)
		held = append(held, addr)
	}

	_, ok := g.Alloc()
	require.False(t, ok, "exhausted allocator must report failure, not panic")

	g.Free(held[0])
	addr, ok := g.Alloc()
	require.True(t, ok, "allocator must recover after a free")
	require.Equal(t, held[0], addr)
}

func TestFree_InvalidAddressPanics(t *testing.T) {
	t.Parallel()

	a := newTestAllocator(t, 1, 4)
	g := a.PinTo(0)
	defer g.Unpin()

	addr, ok := g.Alloc()
	require.True(t, ok)

	require.PanicsWithError(t, ErrInvalidFree.Error(), func() {
		g.Free(addr + 1) // misaligned
	})
	require.PanicsWithError(t, ErrInvalidFree.Error(), func() {
		g.Free(DefaultBase - Addr(a.PageSize())) // below the range
	})
	require.PanicsWithError(t, ErrInvalidFree.Error(), func() {
		g.Free(a.top) // first address past the range
	})

	g.Free(addr)
	require.PanicsWithError(t, ErrDoubleFree.Error(), func() {
		g.Free(addr)
	})
}

func TestCore_UseAfterUnpinPanics(t *testing.T) {
	t.Parallel()

	a := newTestAllocator(t, 2, 4)
	g := a.Pin()
	g.Unpin()

	require.PanicsWithError(t, ErrUnpinned.Error(), func() { g.Alloc() })
	require.PanicsWithError(t, ErrUnpinned.Error(), func() { g.Free(DefaultBase) })
}

func TestPin_RoundRobinSpread(t *testing.T) {
	t.Parallel()

	a := newTestAllocator(t, 4, 16)
	seen := make(map[int]bool)
	for i := 0; i < 4; i++ {
		g := a.Pin()
		seen[g.ID()] = true
		g.Unpin()
	}
	require.Len(t, seen, 4, "four consecutive pins must cover four cores")
}

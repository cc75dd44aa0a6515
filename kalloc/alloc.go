package kalloc

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/IvanBrykalov/kernpool/internal/util"
)

// Addr is a page address in the managed (simulated physical) range.
type Addr uint64

const (
	// StealQuota caps how many pages one replenishment moves between
	// cores. It bounds the latency a stealer imposes on a victim core
	// while still amortizing the steal over many subsequent allocations.
	StealQuota = 64

	// AllocSentinel fills every freshly allocated page, so reads through
	// a stale reference see garbage instead of plausible old contents.
	AllocSentinel byte = 0x05

	// FreeSentinel fills every freed page, catching dangling accesses
	// after release. Distinct from AllocSentinel.
	FreeSentinel byte = 0x01

	// DefaultPageSize is the page granularity assumed when none is given.
	DefaultPageSize = 4096

	// DefaultBase places the managed range where the modeled machine
	// maps physical memory.
	DefaultBase Addr = 0x8000_0000
)

// coreList is one core's free list: a stack of page indices with its own
// lock. Padding keeps neighbouring cores' locks off a shared cache line.
type coreList struct {
	mu   sync.Mutex
	free []uint32 // stack; top at the end

	_      util.CacheLinePad
	steals util.PaddedAtomicUint64
}

// pop removes and returns the top page index. Caller holds mu.
func (c *coreList) pop() (uint32, bool) {
	n := len(c.free)
	if n == 0 {
		return 0, false
	}
	idx := c.free[n-1]
	c.free = c.free[:n-1]
	return idx, true
}

// Allocator hands out fixed-size pages from a contiguous range, one free
// list per core. Allocation and free are lock-local to the calling
// core's list; an empty list replenishes by stealing a bounded batch
// from peers. All methods are safe for concurrent use.
type Allocator struct {
	arena    []byte
	base     Addr
	top      Addr
	pageSize uint64
	cores    []coreList

	next atomic.Uint64 // round-robin cursor for Pin

	chk *checker
	met Metrics
	log *zap.Logger
}

// New carves Options.Pages pages out of a fresh arena and distributes
// them round-robin across the core lists, every page stamped with
// FreeSentinel. Panics if PageSize is not a power of two or Base is not
// page-aligned.
func New(opt Options) *Allocator {
	if opt.Cores <= 0 {
		opt.Cores = util.ReasonableCoreCount()
	}
	if opt.Pages <= 0 {
		opt.Pages = 1024
	}
	if opt.PageSize <= 0 {
		opt.PageSize = DefaultPageSize
	}
	if !util.IsPowerOfTwo(uint64(opt.PageSize)) {
		panic("kalloc: PageSize must be a power of two")
	}
	if opt.Base == 0 {
		opt.Base = DefaultBase
	}
	if uint64(opt.Base)%uint64(opt.PageSize) != 0 {
		panic("kalloc: Base must be page-aligned")
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}

	a := &Allocator{
		arena:    make([]byte, opt.Pages*opt.PageSize),
		base:     opt.Base,
		top:      opt.Base + Addr(opt.Pages*opt.PageSize),
		pageSize: uint64(opt.PageSize),
		cores:    make([]coreList, opt.Cores),
		met:      opt.Metrics,
		log:      opt.Logger,
	}
	if !opt.DisableChecks {
		a.chk = newChecker(opt.Pages)
	}

	for i := 0; i < opt.Pages; i++ {
		p := a.pageBytes(uint32(i))
		for j := range p {
			p[j] = FreeSentinel
		}
		c := &a.cores[i%opt.Cores]
		c.free = append(c.free, uint32(i))
	}

	a.log.Info("kalloc: initialized",
		zap.Int("cores", opt.Cores),
		zap.Int("pages", opt.Pages),
		zap.Int("page_size", opt.PageSize),
		zap.Uint64("base", uint64(opt.Base)),
		zap.Bool("checks", a.chk != nil),
	)
	return a
}

// Core is a scoped guard binding the caller to one core's free list.
// It models running with migration disabled: the identity it carries is
// valid only between Pin and Unpin, and the guard enforces that.
// A Core is not safe for concurrent use; each goroutine pins its own.
type Core struct {
	a    *Allocator
	id   int
	done bool
}

// Pin binds the caller to a core picked round-robin and returns the
// guard. Callers must Unpin when done with the allocator calls.
func (a *Allocator) Pin() *Core {
	id := int((a.next.Add(1) - 1) % uint64(len(a.cores)))
	return &Core{a: a, id: id}
}

// PinTo binds the caller to an explicit core. For callers that track
// real processor affinity, and for tests that need a deterministic list.
func (a *Allocator) PinTo(id int) *Core {
	if id < 0 || id >= len(a.cores) {
		panic("kalloc: PinTo core out of range")
	}
	return &Core{a: a, id: id}
}

// Unpin releases the guard. Further Alloc/Free through it panic.
func (g *Core) Unpin() { g.done = true }

// ID returns the core index the guard is bound to.
func (g *Core) ID() int { return g.id }

func (g *Core) mustPinned() {
	if g.done {
		panic(ErrUnpinned)
	}
}

// Alloc pops a page from the bound core's list, stealing a batch from
// peers when the list is empty. Returns (0, false) when no page exists
// anywhere — the one recoverable failure in this package. The returned
// page is filled with AllocSentinel.
func (g *Core) Alloc() (Addr, bool) {
	g.mustPinned()
	a := g.a
	c := &a.cores[g.id]

	c.mu.Lock()
	idx, ok := c.pop()
	c.mu.Unlock()

	if !ok {
		// Replenish without holding the local lock: at most one
		// free-list lock is held at any instant, so two starved cores
		// stealing from each other cannot deadlock.
		if loot := a.steal(g.id); len(loot) > 0 {
			c.mu.Lock()
			c.free = append(c.free, loot...)
			idx, ok = c.pop()
			c.mu.Unlock()
		}
	}
	if !ok {
		a.met.Exhausted()
		a.log.Debug("kalloc: out of memory", zap.Int("core", g.id))
		return 0, false
	}

	if a.chk != nil {
		a.chk.onAlloc(idx)
	}
	p := a.pageBytes(idx)
	for i := range p {
		p[i] = AllocSentinel
	}
	a.met.Alloc()
	return a.addrOf(idx), true
}

// Free validates the address, stamps the page with FreeSentinel, and
// pushes it onto the bound core's list. Misaligned or out-of-range
// addresses panic with ErrInvalidFree; freeing a page that is already
// free panics with ErrDoubleFree (unless checks are disabled).
func (g *Core) Free(addr Addr) {
	g.mustPinned()
	a := g.a
	idx := a.indexOf(addr)

	if a.chk != nil {
		a.chk.onFree(idx)
	}
	p := a.pageBytes(idx)
	for i := range p {
		p[i] = FreeSentinel
	}

	c := &a.cores[g.id]
	c.mu.Lock()
	c.free = append(c.free, idx)
	c.mu.Unlock()
	a.met.Free()
}

// steal visits every other core in index order, locking one peer at a
// time, and collects up to StealQuota page indices from their stack
// tops. It stops early once the quota is met.
func (a *Allocator) steal(core int) []uint32 {
	var loot []uint32
	for i := range a.cores {
		if i == core {
			continue
		}
		p := &a.cores[i]
		p.mu.Lock()
		for len(loot) < StealQuota {
			idx, ok := p.pop()
			if !ok {
				break
			}
			loot = append(loot, idx)
		}
		p.mu.Unlock()
		if len(loot) >= StealQuota {
			break
		}
	}
	if len(loot) > 0 {
		a.cores[core].steals.Add(uint64(len(loot)))
		a.met.Steal(len(loot))
		a.log.Debug("kalloc: stole pages",
			zap.Int("core", core),
			zap.Int("pages", len(loot)),
		)
	}
	return loot
}

// Bytes returns the payload of the page at addr. The caller must own the
// page; the allocator does not check ownership, only that the address is
// a page it manages (panics with ErrInvalidFree otherwise).
func (a *Allocator) Bytes(addr Addr) []byte {
	return a.pageBytes(a.indexOf(addr))
}

// PageSize returns the configured page granularity in bytes.
func (a *Allocator) PageSize() int { return int(a.pageSize) }

// FreePages returns the total number of free pages across all core
// lists. Lists are locked one at a time, so concurrent traffic can move
// pages mid-count; with the allocator quiesced the total is exact.
func (a *Allocator) FreePages() int {
	total := 0
	for i := range a.cores {
		c := &a.cores[i]
		c.mu.Lock()
		total += len(c.free)
		c.mu.Unlock()
	}
	return total
}

// CoreStats is a point-in-time view of one core's list.
type CoreStats struct {
	Core      int
	FreePages int
	// Steals counts pages this core has taken from peers since init.
	Steals uint64
}

// Stats snapshots every core list.
func (a *Allocator) Stats() []CoreStats {
	out := make([]CoreStats, len(a.cores))
	for i := range a.cores {
		c := &a.cores[i]
		c.mu.Lock()
		n := len(c.free)
		c.mu.Unlock()
		out[i] = CoreStats{Core: i, FreePages: n, Steals: c.steals.Load()}
	}
	return out
}

// ---- address arithmetic ----

// indexOf converts an address to a page index, panicking with
// ErrInvalidFree on anything misaligned or outside the managed range.
func (a *Allocator) indexOf(addr Addr) uint32 {
	if addr < a.base || addr >= a.top || uint64(addr)%a.pageSize != 0 {
		a.log.Error("kalloc: invalid page address",
			zap.Uint64("addr", uint64(addr)),
			zap.Uint64("base", uint64(a.base)),
			zap.Uint64("top", uint64(a.top)),
		)
		panic(ErrInvalidFree)
	}
	return uint32(uint64(addr-a.base) / a.pageSize)
}

func (a *Allocator) addrOf(idx uint32) Addr {
	return a.base + Addr(uint64(idx)*a.pageSize)
}

func (a *Allocator) pageBytes(idx uint32) []byte {
	off := uint64(idx) * a.pageSize
	return a.arena[off : off+a.pageSize]
}

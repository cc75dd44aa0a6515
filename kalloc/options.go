package kalloc

import "go.uber.org/zap"

// Metrics exposes allocator-level observability hooks.
// A NoopMetrics implementation is provided and used by default.
type Metrics interface {
	Alloc()
	Free()
	// Steal reports a replenishment transfer of n pages from peer lists.
	Steal(n int)
	// Exhausted reports an Alloc that found no page anywhere.
	Exhausted()
}

// NoopMetrics is a drop-in Metrics implementation that does nothing.
type NoopMetrics struct{}

func (NoopMetrics) Alloc()     {}
func (NoopMetrics) Free()      {}
func (NoopMetrics) Steal(int)  {}
func (NoopMetrics) Exhausted() {}

var _ Metrics = NoopMetrics{}

// Options configures the allocator. Zero values are safe; defaults are
// applied in New():
//   - Cores <= 0    => util.ReasonableCoreCount()
//   - Pages <= 0    => 1024
//   - PageSize <= 0 => 4096 (must be a power of two)
//   - Base == 0     => 0x8000_0000
//   - nil Metrics   => NoopMetrics
//   - nil Logger    => zap.NewNop()
type Options struct {
	// Cores is the number of independent free lists (one per processor
	// core in the machine being modeled).
	Cores int

	// Pages is the total number of pages carved from the managed range.
	Pages int

	// PageSize in bytes. Must be a power of two.
	PageSize int

	// Base is the simulated physical address of the first page. Page
	// addresses handed out by Alloc lie in [Base, Base+Pages*PageSize).
	Base Addr

	// DisableChecks turns off the free-set checker that catches double
	// frees. Sentinel stamping is unconditional either way.
	DisableChecks bool

	Metrics Metrics
	Logger  *zap.Logger
}

// Package prom exports Prometheus adapters for the bcache and kalloc
// Metrics interfaces. All Prometheus metric types are goroutine-safe.
package prom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/IvanBrykalov/kernpool/bcache"
	"github.com/IvanBrykalov/kernpool/kalloc"
)

// CacheAdapter implements bcache.Metrics.
type CacheAdapter struct {
	hits   prometheus.Counter
	misses prometheus.Counter
	evicts *prometheus.CounterVec
}

// NewCache constructs a Prometheus adapter for the buffer cache.
//   - reg:         registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:     Prometheus namespace and subsystem
//   - constLabels: static labels applied to all metrics (may be nil)
func NewCache(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *CacheAdapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &CacheAdapter{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "hits_total",
			Help:        "Buffer cache hits",
			ConstLabels: constLabels,
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "misses_total",
			Help:        "Buffer cache misses",
			ConstLabels: constLabels,
		}),
		evicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "evictions_total",
				Help:        "Slots recycled, by whether the victim migrated buckets",
				ConstLabels: constLabels,
			},
			[]string{"migrated"},
		),
	}
	reg.MustRegister(a.hits, a.misses, a.evicts)
	return a
}

// Hit increments the hit counter.
func (a *CacheAdapter) Hit() { a.hits.Inc() }

// Miss increments the miss counter.
func (a *CacheAdapter) Miss() { a.misses.Inc() }

// Evict increments the eviction counter with a migration label.
func (a *CacheAdapter) Evict(migrated bool) {
	if migrated {
		a.evicts.WithLabelValues("true").Inc()
	} else {
		a.evicts.WithLabelValues("false").Inc()
	}
}

// Compile-time check: ensure CacheAdapter implements bcache.Metrics.
var _ bcache.Metrics = (*CacheAdapter)(nil)

// AllocAdapter implements kalloc.Metrics.
type AllocAdapter struct {
	allocs    prometheus.Counter
	frees     prometheus.Counter
	steals    prometheus.Counter
	stolen    prometheus.Counter
	exhausted prometheus.Counter
}

// NewAlloc constructs a Prometheus adapter for the page allocator.
// If freePages is non-nil it is exported as a gauge (typically
// Allocator.FreePages; it locks each core list briefly on scrape).
func NewAlloc(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels, freePages func() int) *AllocAdapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &AllocAdapter{
		allocs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "allocs_total",
			Help:        "Pages allocated",
			ConstLabels: constLabels,
		}),
		frees: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "frees_total",
			Help:        "Pages freed",
			ConstLabels: constLabels,
		}),
		steals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "steals_total",
			Help:        "Replenishment transfers between cores",
			ConstLabels: constLabels,
		}),
		stolen: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "stolen_pages_total",
			Help:        "Pages moved between cores by stealing",
			ConstLabels: constLabels,
		}),
		exhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "exhausted_total",
			Help:        "Allocations that failed with no page anywhere",
			ConstLabels: constLabels,
		}),
	}
	reg.MustRegister(a.allocs, a.frees, a.steals, a.stolen, a.exhausted)
	if freePages != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "free_pages",
			Help:        "Free pages across all core lists",
			ConstLabels: constLabels,
		}, func() float64 { return float64(freePages()) }))
	}
	return a
}

// Alloc increments the allocation counter.
func (a *AllocAdapter) Alloc() { a.allocs.Inc() }

// Free increments the free counter.
func (a *AllocAdapter) Free() { a.frees.Inc() }

// Steal records one replenishment moving n pages.
func (a *AllocAdapter) Steal(n int) {
	a.steals.Inc()
	a.stolen.Add(float64(n))
}

// Exhausted increments the failed-allocation counter.
func (a *AllocAdapter) Exhausted() { a.exhausted.Inc() }

// Compile-time check: ensure AllocAdapter implements kalloc.Metrics.
var _ kalloc.Metrics = (*AllocAdapter)(nil)

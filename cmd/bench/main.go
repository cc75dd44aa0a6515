// Command bench runs a synthetic workload against the buffer cache and
// the page allocator, and exposes optional pprof/Prometheus endpoints.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/kernpool/bcache"
	"github.com/IvanBrykalov/kernpool/kalloc"
	"github.com/IvanBrykalov/kernpool/metrics/prom"
)

// memDevice is an in-memory block store standing in for the disk driver.
type memDevice struct {
	blockSize int
	blocks    []atomic.Pointer[[]byte]
}

func newMemDevice(blocks, blockSize int) *memDevice {
	return &memDevice{blockSize: blockSize, blocks: make([]atomic.Pointer[[]byte], blocks)}
}

func (d *memDevice) ReadBlock(_, blockno uint32, p []byte) error {
	if b := d.blocks[int(blockno)%len(d.blocks)].Load(); b != nil {
		copy(p, *b)
		return nil
	}
	for i := range p {
		p[i] = 0
	}
	return nil
}

func (d *memDevice) WriteBlock(_, blockno uint32, p []byte) error {
	b := append([]byte(nil), p...)
	d.blocks[int(blockno)%len(d.blocks)].Store(&b)
	return nil
}

func main() {
	var (
		slots     = flag.Int("slots", 256, "buffer cache slots")
		buckets   = flag.Int("buckets", 13, "buffer cache buckets")
		blockSize = flag.Int("block-size", 1024, "device block size (bytes)")

		cores    = flag.Int("cores", runtime.GOMAXPROCS(0), "allocator core lists")
		pages    = flag.Int("pages", 8192, "allocator pages")
		pageSize = flag.Int("page-size", 4096, "allocator page size (bytes)")

		workers  = flag.Int("workers", 2*runtime.GOMAXPROCS(0), "number of worker goroutines")
		duration = flag.Duration("duration", 10*time.Second, "benchmark duration")
		readPct  = flag.Int("reads", 80, "cache read percentage [0..100]")
		keyspace = flag.Int("keys", 1024, "block keyspace size")
		seed     = flag.Int64("seed", time.Now().UnixNano(), "random seed")

		pprofAddr   = flag.String("pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
		metricsAddr = flag.String("http", ":8080", "serve Prometheus metrics at addr")
	)
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	// ---- pprof server (on DefaultServeMux) ----
	if *pprofAddr != "" {
		go func() {
			log.Info("pprof: serving", zap.String("addr", *pprofAddr))
			log.Error("pprof server exited", zap.Error(http.ListenAndServe(*pprofAddr, nil)))
		}()
	}

	// ---- subsystems under test ----
	dev := newMemDevice(*keyspace, *blockSize)
	cache := bcache.New(bcache.Options{
		Slots:     *slots,
		Buckets:   *buckets,
		BlockSize: *blockSize,
		Device:    dev,
		Metrics:   prom.NewCache(nil, "kernpool", "bcache", nil),
		Logger:    log,
	})
	// The free-pages gauge closes over the allocator, which doesn't
	// exist until New; bind it lazily.
	var alloc *kalloc.Allocator
	allocMetrics := prom.NewAlloc(nil, "kernpool", "kalloc", nil, func() int {
		if alloc == nil {
			return 0
		}
		return alloc.FreePages()
	})
	alloc = kalloc.New(kalloc.Options{
		Cores:    *cores,
		Pages:    *pages,
		PageSize: *pageSize,
		Metrics:  allocMetrics,
		Logger:   log,
	})

	// ---- Prometheus metrics (on DefaultServeMux) ----
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		log.Info("metrics: serving", zap.String("addr", *metricsAddr))
		log.Error("metrics server exited", zap.Error(http.ListenAndServe(*metricsAddr, nil)))
	}()

	// ---- workload ----
	var cacheOps, allocOps atomic.Int64
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < *workers; w++ {
		g.Go(func() error {
			r := rand.New(rand.NewSource(*seed + int64(w)*9973))
			pin := alloc.Pin()
			defer pin.Unpin()

			held := make([]kalloc.Addr, 0, 64)
			defer func() {
				for _, a := range held {
					pin.Free(a)
				}
			}()

			for ctx.Err() == nil {
				// Cache traffic.
				blockno := uint32(r.Intn(*keyspace))
				b, err := cache.Read(1, blockno)
				if err != nil {
					return err
				}
				if r.Intn(100) >= *readPct {
					b.Data()[0] = byte(blockno)
					if err := cache.Write(b); err != nil {
						cache.Release(b)
						return err
					}
				}
				cache.Release(b)
				cacheOps.Add(1)

				// Allocator traffic.
				if len(held) > 32 || (len(held) > 0 && r.Intn(2) == 0) {
					n := len(held) - 1
					pin.Free(held[n])
					held = held[:n]
				} else if addr, ok := pin.Alloc(); ok {
					held = append(held, addr)
				}
				allocOps.Add(1)
			}
			return nil
		})
	}

	start := time.Now()
	if err := g.Wait(); err != nil {
		log.Fatal("workload failed", zap.Error(err))
	}
	elapsed := time.Since(start)

	fmt.Printf("cache ops: %d (%.0f/s)\n", cacheOps.Load(), float64(cacheOps.Load())/elapsed.Seconds())
	fmt.Printf("alloc ops: %d (%.0f/s)\n", allocOps.Load(), float64(allocOps.Load())/elapsed.Seconds())
	fmt.Printf("free pages: %d / %d\n", alloc.FreePages(), *pages)
	for _, st := range alloc.Stats() {
		fmt.Printf("  core %d: free=%d stolen=%d\n", st.Core, st.FreePages, st.Steals)
	}
}

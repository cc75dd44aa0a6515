package bcache

import (
	"math/rand"
	"sync/atomic"
	"testing"
)

// benchmarkMix exercises a read/write mix against a warm cache.
// It uses parallel workers (RunParallel spawns GOMAXPROCS goroutines).
// The hot keyspace equals the pool size so the mix is mostly hits with a
// steady trickle of evictions.
func benchmarkMix(b *testing.B, readsPct int) {
	dev := newMemDevice()
	c := New(Options{Device: dev, Slots: 64, Buckets: 13, BlockSize: 512})

	// Warm the pool.
	for i := 0; i < 64; i++ {
		buf, err := c.Read(1, uint32(i))
		if err != nil {
			b.Fatal(err)
		}
		c.Release(buf)
	}

	b.ReportAllocs()
	b.ResetTimer()

	var seed int64 = 1
	b.RunParallel(func(pb *testing.PB) {
		// Independent RNG stream for each worker.
		r := rand.New(rand.NewSource(atomic.AddInt64(&seed, 1)))
		for pb.Next() {
			blockno := uint32(r.Intn(80)) // a bit wider than the pool
			buf, err := c.Read(1, blockno)
			if err != nil {
				b.Error(err)
				return
			}
			if r.Intn(100) >= readsPct {
				buf.Data()[0]++
				if err := c.Write(buf); err != nil {
					b.Error(err)
					c.Release(buf)
					return
				}
			}
			c.Release(buf)
		}
	})
}

func BenchmarkCache_90r10w(b *testing.B) { benchmarkMix(b, 90) }
func BenchmarkCache_50r50w(b *testing.B) { benchmarkMix(b, 50) }

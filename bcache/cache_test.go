package bcache

import (
	"bytes"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct{ t int64 }

func (f *fakeClock) NowUnixNano() int64  { return f.t }
func (f *fakeClock) add(d time.Duration) { f.t += int64(d) }

// memDevice is an in-memory block device. Reads of unwritten blocks
// return zeroes. Counters let tests observe which operations hit the
// device and which were served from cache.
type memDevice struct {
	mu     sync.Mutex
	blocks map[[2]uint32][]byte
	reads  atomic.Int64
	writes atomic.Int64

	readErr error // returned by ReadBlock when set
}

func newMemDevice() *memDevice {
	return &memDevice{blocks: make(map[[2]uint32][]byte)}
}

func (d *memDevice) ReadBlock(dev, blockno uint32, p []byte) error {
	d.reads.Add(1)
	if d.readErr != nil {
		return d.readErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range p {
		p[i] = 0
	}
	if b, ok := d.blocks[[2]uint32{dev, blockno}]; ok {
		copy(p, b)
	}
	return nil
}

func (d *memDevice) WriteBlock(dev, blockno uint32, p []byte) error {
	d.writes.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.blocks[[2]uint32{dev, blockno}] = append([]byte(nil), p...)
	return nil
}

// Round trip through the device: write through one slot, evict nothing,
// read back from cache without touching the device again.
func TestCache_ReadWriteRoundTrip(t *testing.T) {
	t.Parallel()

	dev := newMemDevice()
	c := New(Options{Device: dev, Slots: 8, BlockSize: 64})

	b, err := c.Read(1, 5)
	if err != nil {
		t.Fatal(err)
	}
	copy(b.Data(), []byte("hello block"))
	if err := c.Write(b); err != nil {
		t.Fatal(err)
	}
	c.Release(b)

	if got := dev.reads.Load(); got != 1 {
		t.Fatalf("device reads = %d, want 1", got)
	}

	// Same block again: must be a cache hit with the written contents.
	b2, err := c.Read(1, 5)
	if err != nil {
		t.Fatal(err)
	}
	if b2 != b {
		t.Fatal("second Read returned a different slot")
	}
	if !bytes.Equal(b2.Data()[:11], []byte("hello block")) {
		t.Fatalf("payload lost across release: %q", b2.Data()[:11])
	}
	c.Release(b2)

	if got := dev.reads.Load(); got != 1 {
		t.Fatalf("device reads after hit = %d, want 1", got)
	}
	if got := c.Len(); got != 8 {
		t.Fatalf("Len() = %d, want 8", got)
	}
}

// Eviction must pick the idle slot with the globally smallest release
// stamp, across buckets. Uses a fake clock so the stamps are exact.
func TestCache_EvictsLeastRecentlyReleased(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{t: 1}
	dev := newMemDevice()
	c := New(Options{Device: dev, Slots: 3, Buckets: 2, BlockSize: 32, Clock: clk})

	// Populate all three slots with distinct release times.
	for blockno := uint32(0); blockno < 3; blockno++ {
		b, err := c.Read(1, blockno)
		if err != nil {
			t.Fatal(err)
		}
		clk.add(time.Millisecond)
		c.Release(b)
	}
	readsBefore := dev.reads.Load()

	// A fourth block evicts block 0 (oldest lastuse).
	b, err := c.Read(1, 3)
	if err != nil {
		t.Fatal(err)
	}
	clk.add(time.Millisecond)
	c.Release(b)

	// Blocks 1 and 2 must still be resident...
	for blockno := uint32(1); blockno < 3; blockno++ {
		b, err := c.Read(1, blockno)
		if err != nil {
			t.Fatal(err)
		}
		clk.add(time.Millisecond)
		c.Release(b)
	}
	if got := dev.reads.Load(); got != readsBefore+1 {
		t.Fatalf("device reads = %d, want %d (only the new block)", got, readsBefore+1)
	}

	// ...while block 0 was recycled and needs the device again.
	b, err = c.Read(1, 0)
	if err != nil {
		t.Fatal(err)
	}
	c.Release(b)
	if got := dev.reads.Load(); got != readsBefore+2 {
		t.Fatalf("device reads = %d, want %d (block 0 evicted)", got, readsBefore+2)
	}
}

// A pinned slot has refcnt > 0 and must never be chosen as a victim,
// even when its release stamp is the oldest.
func TestCache_PinKeepsSlotResident(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{t: 1}
	dev := newMemDevice()
	c := New(Options{Device: dev, Slots: 2, Buckets: 2, BlockSize: 32, Clock: clk})

	b1, err := c.Read(1, 1)
	if err != nil {
		t.Fatal(err)
	}
	c.Pin(b1)
	clk.add(time.Millisecond)
	c.Release(b1) // refcnt 1 (pin), oldest stamp

	b2, err := c.Read(1, 2)
	if err != nil {
		t.Fatal(err)
	}
	clk.add(time.Millisecond)
	c.Release(b2) // refcnt 0, newer stamp

	// The only evictable slot is block 2's.
	b3 := c.Acquire(1, 3)
	clk.add(time.Millisecond)
	c.Release(b3)

	readsBefore := dev.reads.Load()
	got, err := c.Read(1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if got != b1 {
		t.Fatal("pinned slot was recycled")
	}
	if dev.reads.Load() != readsBefore {
		t.Fatal("pinned block re-read from device")
	}
	c.Release(got)
	c.Unpin(b1)
}

// With every slot referenced, a miss has no victim and is fatal.
func TestCache_ExhaustionPanics(t *testing.T) {
	t.Parallel()

	dev := newMemDevice()
	c := New(Options{Device: dev, Slots: 2, BlockSize: 32})

	c.Acquire(1, 1)
	c.Acquire(1, 2)

	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok || !errors.Is(err, ErrNoBuffers) {
			t.Fatalf("recovered %v, want ErrNoBuffers", r)
		}
	}()
	c.Acquire(1, 3)
	t.Fatal("Acquire returned with no evictable slots")
}

// Write and Release require the sleep lock; calling them after the lock
// is gone is a protocol violation, not a recoverable error.
func TestCache_LockProtocolViolationsPanic(t *testing.T) {
	t.Parallel()

	dev := newMemDevice()
	c := New(Options{Device: dev, Slots: 4, BlockSize: 32})

	b := c.Acquire(1, 1)
	c.Release(b)

	mustPanic := func(name string, fn func()) {
		t.Helper()
		defer func() {
			r := recover()
			err, ok := r.(error)
			if !ok || !errors.Is(err, ErrLockNotHeld) {
				t.Fatalf("%s: recovered %v, want ErrLockNotHeld", name, r)
			}
		}()
		fn()
		t.Fatalf("%s did not panic", name)
	}
	mustPanic("Write", func() { _ = c.Write(b) })
	mustPanic("Release", func() { c.Release(b) })
}

// Unpin below zero is a refcnt underflow.
func TestCache_UnpinUnderflowPanics(t *testing.T) {
	t.Parallel()

	dev := newMemDevice()
	c := New(Options{Device: dev, Slots: 4, BlockSize: 32})

	b := c.Acquire(1, 1)
	c.Release(b)

	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok || !errors.Is(err, ErrRefcnt) {
			t.Fatalf("recovered %v, want ErrRefcnt", r)
		}
	}()
	c.Unpin(b)
	t.Fatal("Unpin of unreferenced slot did not panic")
}

// A device read failure releases the slot and surfaces the error; the
// slot must be reusable afterwards.
func TestCache_ReadErrorReleasesSlot(t *testing.T) {
	t.Parallel()

	dev := newMemDevice()
	c := New(Options{Device: dev, Slots: 2, BlockSize: 32})

	dev.readErr = errors.New("bad sector")
	if _, err := c.Read(1, 1); err == nil {
		t.Fatal("Read swallowed the device error")
	}

	dev.readErr = nil
	b, err := c.Read(1, 1)
	if err != nil {
		t.Fatal(err)
	}
	c.Release(b)
}

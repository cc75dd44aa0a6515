// Package sleeplock provides a long-held mutual-exclusion lock whose
// waiters yield instead of spinning, plus a Held probe that callers use
// to assert locking protocol before touching protected state.
//
// The guard mutex is held only for short flag flips; the lock itself may
// be held across blocking work (device I/O) without burning a core.
package sleeplock

import "sync"

// Mutex is a sleep-discipline lock: a short guard mutex protects the
// held flag, and contenders park on the condition variable until the
// holder releases. Unlike sync.Mutex it can report whether it is held,
// which protocol-violation checks depend on.
type Mutex struct {
	guard sync.Mutex
	cond  *sync.Cond
	held  bool
}

// New returns an unlocked sleep lock.
func New() *Mutex {
	m := &Mutex{}
	m.cond = sync.NewCond(&m.guard)
	return m
}

// Lock blocks until the lock is free and then takes it.
// The calling goroutine is parked while it waits.
func (m *Mutex) Lock() {
	m.guard.Lock()
	for m.held {
		m.cond.Wait()
	}
	m.held = true
	m.guard.Unlock()
}

// Unlock releases the lock and wakes one waiter.
// Unlocking a lock that is not held panics.
func (m *Mutex) Unlock() {
	m.guard.Lock()
	if !m.held {
		m.guard.Unlock()
		panic("sleeplock: unlock of unlocked Mutex")
	}
	m.held = false
	m.cond.Signal()
	m.guard.Unlock()
}

// Held reports whether the lock is currently held by someone.
// It cannot tell holders apart; callers that need "held by me" must
// follow the discipline of only asking while they believe they hold it.
func (m *Mutex) Held() bool {
	m.guard.Lock()
	h := m.held
	m.guard.Unlock()
	return h
}

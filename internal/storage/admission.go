package storage

import (
	"sync"

	"github.com/cockroachdb/errors"
)

// admission keeps a pessimistic count of the bytes outstanding work may
// still need. Crossing the threshold requests a flush; paced callers wait
// until flushes bring the count back below it.
type admission struct {
	mu        sync.Mutex
	cond      *sync.Cond
	reserved  int64
	threshold int64
	replaying bool
	closed    bool

	available    func() uint64
	requestFlush func()

	pacedWaits uint64
	rejections uint64
}

func newAdmission(threshold int64, replaying bool, available func() uint64, requestFlush func()) *admission {
	a := &admission{
		threshold:    threshold,
		replaying:    replaying,
		available:    available,
		requestFlush: requestFlush,
	}
	a.cond = sync.NewCond(&a.mu)
	return a
}

// reserve adds delta to the outstanding count. A growing reservation that
// no longer fits the available space is rejected with ErrStoreFull unless
// the store is replaying.
func (a *admission) reserve(delta int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if delta > 0 && !a.replaying {
		avail := a.available()
		if uint64(a.reserved+delta) > avail {
			a.rejections++
			return errors.Wrapf(ErrStoreFull, "reserving %d bytes with %d outstanding, %d available", delta, a.reserved, avail)
		}
	}

	a.reserved += delta
	if a.reserved < 0 {
		a.reserved = 0
	}

	if delta > 0 && a.reserved >= a.threshold {
		a.requestFlush()
	}
	if delta < 0 && a.reserved < a.threshold {
		a.cond.Signal()
	}
	return nil
}

// pace blocks while the outstanding count is at or above the threshold.
// Each woken caller passes the wakeup on while there is room, so one
// release wakes waiters one at a time rather than all at once. A flush is
// requested before every wait so work staged just before the call is
// covered.
func (a *admission) pace() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for a.reserved >= a.threshold && !a.replaying && !a.closed {
		a.pacedWaits++
		a.requestFlush()
		a.cond.Wait()
	}
	if a.reserved < a.threshold {
		a.cond.Signal()
	}
}

// setReplaying switches rejection and pacing off or back on.
func (a *admission) setReplaying(replaying bool) {
	a.mu.Lock()
	a.replaying = replaying
	a.mu.Unlock()
	if replaying {
		a.cond.Broadcast()
	}
}

// close releases every waiter for good.
func (a *admission) close() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	a.cond.Broadcast()
}

func (a *admission) snapshot() (reserved int64, pacedWaits, rejections uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reserved, a.pacedWaits, a.rejections
}

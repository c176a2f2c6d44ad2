package keeper

import "sync"

type lockState uint8

const (
	lockInFlight lockState = iota + 1
	lockSettled            // execution succeeded, waiting for the on-chain event
	lockOrphaned           // in flight, but the order already left the book
)

// lockSet holds the ids of orders with an execution attempt in flight.
type lockSet struct {
	mu   sync.Mutex
	held map[string]lockState
}

func newLockSet() *lockSet {
	return &lockSet{held: make(map[string]lockState)}
}

func (l *lockSet) isHeld(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[id]
	return ok
}

// tryAcquire takes the lock for id; false if someone else holds it.
func (l *lockSet) tryAcquire(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[id]; ok {
		return false
	}
	l.held[id] = lockInFlight
	return true
}

// release is idempotent.
func (l *lockSet) release(id string) {
	l.mu.Lock()
	delete(l.held, id)
	l.mu.Unlock()
}

// settle keeps the lock after a successful execution until the order's
// event arrives. An orphaned lock is dropped instead.
func (l *lockSet) settle(id string) {
	l.mu.Lock()
	switch l.held[id] {
	case lockInFlight:
		l.held[id] = lockSettled
	case lockOrphaned:
		delete(l.held, id)
	}
	l.mu.Unlock()
}

// forget drops a settled lock. An in-flight lock stays with its owner but
// is marked so that settle drops it.
func (l *lockSet) forget(id string) {
	l.mu.Lock()
	switch l.held[id] {
	case lockSettled:
		delete(l.held, id)
	case lockInFlight:
		l.held[id] = lockOrphaned
	}
	l.mu.Unlock()
}

func (l *lockSet) orphaned(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[id] == lockOrphaned
}

// retryCounter counts consecutive gas estimation failures per order.
type retryCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func newRetryCounter() *retryCounter {
	return &retryCounter{counts: make(map[string]int)}
}

func (r *retryCounter) inc(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[id]++
	return r.counts[id]
}

func (r *retryCounter) get(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[id]
}

func (r *retryCounter) reset(id string) {
	r.mu.Lock()
	delete(r.counts, id)
	r.mu.Unlock()
}

// Package market provides per-market serialization for trade commits and
// resolution. The aggregate (qYes, qNo) for one market is the single hot
// shared resource in the engine: two commits on the same market must never
// price against the same "before" aggregate. Different markets are fully
// independent and commit in parallel.
package market

import "sync"

// Locks is a registry of one mutex per market id. Quoting never takes a
// lock; the commit path holds the market's lock across read-aggregate,
// cost computation and ledger write, and resolution holds it across the
// outcome transition.
type Locks struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewLocks creates an empty lock registry.
func NewLocks() *Locks {
	return &Locks{locks: make(map[int64]*sync.Mutex)}
}

// Lock acquires the mutex for the given market, creating it on first use.
func (l *Locks) Lock(marketID int64) {
	l.get(marketID).Lock()
}

// Unlock releases the mutex for the given market.
func (l *Locks) Unlock(marketID int64) {
	l.get(marketID).Unlock()
}

func (l *Locks) get(marketID int64) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.locks[marketID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[marketID] = m
	}
	return m
}

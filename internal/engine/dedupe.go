package engine

import (
	"sync"
	"time"
)

const dedupeCompactAt = 10000

// DedupeCache tracks transaction ids admitted within a sliding window so that
// redelivered records from at-least-once sources are dropped. An id is claimed
// before it is stored and released again if the store rejects it, so a retry
// of a failed write is not mistaken for a duplicate.
type DedupeCache struct {
	mu       sync.Mutex
	admitted map[string]time.Time
}

func NewDedupeCache() *DedupeCache {
	return &DedupeCache{admitted: make(map[string]time.Time)}
}

// Claim records txnID at now and reports true, unless it was already claimed
// within ttl, in which case it reports false and leaves the entry alone.
func (d *DedupeCache) Claim(txnID string, now time.Time, ttl time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if at, ok := d.admitted[txnID]; ok && now.Sub(at) <= ttl {
		return false
	}
	d.admitted[txnID] = now
	if len(d.admitted) > dedupeCompactAt {
		d.expireLocked(now, ttl)
	}
	return true
}

// Release forgets txnID so the next delivery is admitted.
func (d *DedupeCache) Release(txnID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.admitted, txnID)
}

func (d *DedupeCache) expireLocked(now time.Time, ttl time.Duration) {
	for id, at := range d.admitted {
		if now.Sub(at) > ttl {
			delete(d.admitted, id)
		}
	}
}

func (d *DedupeCache) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.admitted)
}

func (d *DedupeCache) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.admitted = make(map[string]time.Time)
}

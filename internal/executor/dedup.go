package executor

import (
	"sync"
	"time"
)

// Dedup maps client idempotency keys to the request id that first claimed
// them, so a retried submission never places a second order within the TTL.
// It is safe for concurrent use.
type Dedup struct {
	seen map[string]claim
	ttl  time.Duration
	mu   sync.Mutex
	now  func() time.Time
}

type claim struct {
	requestID string
	at        time.Time
}

// NewDedup creates a Dedup whose claims expire after ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]claim),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Claim records key for requestID. If key was already claimed within the
// TTL it returns the original request id and true.
func (d *Dedup) Claim(key, requestID string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if c, ok := d.seen[key]; ok && now.Sub(c.at) < d.ttl {
		return c.requestID, true
	}

	d.seen[key] = claim{requestID: requestID, at: now}
	return requestID, false
}

// Release forgets key, e.g. when the claiming request never started.
func (d *Dedup) Release(key string) {
	d.mu.Lock()
	delete(d.seen, key)
	d.mu.Unlock()
}

// Cleanup removes expired claims. Call it periodically to bound memory.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for key, c := range d.seen {
		if now.Sub(c.at) >= d.ttl {
			delete(d.seen, key)
		}
	}
}

// Len returns the number of live claims.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

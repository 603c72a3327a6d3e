// Package ratelimit provides per-key token-bucket limiting for the HTTP
// layer, keyed by client identity.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const idleEviction = 10 * time.Minute

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Keyed maintains one token bucket per key, evicting buckets idle longer
// than ten minutes.
type Keyed struct {
	mu       sync.Mutex
	limiters map[string]*entry
	rps      rate.Limit
	burst    int
	lastGC   time.Time
}

// NewKeyed builds the limiter set with the given refill rate and burst.
func NewKeyed(rps float64, burst int) *Keyed {
	if burst < 1 {
		burst = 1
	}
	return &Keyed{
		limiters: map[string]*entry{},
		rps:      rate.Limit(rps),
		burst:    burst,
		lastGC:   time.Now(),
	}
}

// Allow reports whether the key may proceed now.
func (k *Keyed) Allow(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := time.Now()
	e, ok := k.limiters[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(k.rps, k.burst)}
		k.limiters[key] = e
	}
	e.lastSeen = now

	if now.Sub(k.lastGC) > idleEviction {
		k.evict(now)
	}
	return e.limiter.Allow()
}

// Len reports the number of tracked keys.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.limiters)
}

// evict drops idle entries. Caller holds the lock.
func (k *Keyed) evict(now time.Time) {
	for key, e := range k.limiters {
		if now.Sub(e.lastSeen) > idleEviction {
			delete(k.limiters, key)
		}
	}
	k.lastGC = now
}

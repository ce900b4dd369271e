// Package ratelimit keeps one token bucket per key (client ip, chat user).
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const defaultMaxKeys = 5000

type keyedLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type Keyed struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	idle     time.Duration
	maxKeys  int
	limiters map[string]*keyedLimiter
}

// NewKeyed allows limit events per second per key with the given burst.
// Keys unseen for idle are dropped by Prune.
func NewKeyed(limit rate.Limit, burst int, idle time.Duration) *Keyed {
	if burst <= 0 {
		burst = 1
	}
	if idle <= 0 {
		idle = 10 * time.Minute
	}
	return &Keyed{
		limit:    limit,
		burst:    burst,
		idle:     idle,
		maxKeys:  defaultMaxKeys,
		limiters: make(map[string]*keyedLimiter),
	}
}

// PerWindow allows maxHits per window for each key, refilled evenly.
func PerWindow(maxHits int, window time.Duration) *Keyed {
	if maxHits <= 0 {
		maxHits = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	return NewKeyed(rate.Every(window/time.Duration(maxHits)), maxHits, 2*window)
}

// Allow consumes one token for key. When none is available it reports how long
// until one is.
func (k *Keyed) Allow(key string, now time.Time) (bool, time.Duration) {
	k.mu.Lock()
	defer k.mu.Unlock()

	entry, ok := k.limiters[key]
	if !ok {
		if len(k.limiters) >= k.maxKeys {
			k.pruneLocked(now)
		}
		entry = &keyedLimiter{limiter: rate.NewLimiter(k.limit, k.burst)}
		k.limiters[key] = entry
	}
	entry.lastSeen = now

	reservation := entry.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return false, k.idle
	}
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return false, delay
	}
	return true, 0
}

func (k *Keyed) Prune(now time.Time) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.pruneLocked(now)
}

func (k *Keyed) pruneLocked(now time.Time) int {
	threshold := now.Add(-k.idle)
	removed := 0
	for key, entry := range k.limiters {
		if entry.lastSeen.Before(threshold) {
			delete(k.limiters, key)
			removed++
		}
	}
	return removed
}

func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.limiters)
}

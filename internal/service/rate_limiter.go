package service

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterCleanupInterval = time.Minute
	limiterEntryTTL        = 5 * time.Minute
)

type limiterEntry struct {
	limiter    *rate.Limiter
	perMin     int
	lastAccess time.Time
}

// RateLimiter enforces a per-connection requests-per-minute budget for
// channel requests served by this node. Stale entries are evicted lazily.
type RateLimiter struct {
	mu          sync.Mutex
	entries     map[string]*limiterEntry
	lastCleanup time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		entries:     make(map[string]*limiterEntry),
		lastCleanup: time.Now(),
	}
}

func (l *RateLimiter) cleanup(now time.Time) {
	if now.Sub(l.lastCleanup) < limiterCleanupInterval {
		return
	}
	l.lastCleanup = now

	for key, entry := range l.entries {
		if now.Sub(entry.lastAccess) > limiterEntryTTL {
			delete(l.entries, key)
		}
	}
}

// Allow consumes one slot from the key's budget of perMin requests per
// minute, with a burst of perMin.
func (l *RateLimiter) Allow(key string, perMin int) bool {
	if perMin <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.cleanup(now)

	entry, ok := l.entries[key]
	if !ok || entry.perMin != perMin {
		entry = &limiterEntry{
			limiter: rate.NewLimiter(rate.Limit(float64(perMin)/60.0), perMin),
			perMin:  perMin,
		}
		l.entries[key] = entry
	}
	entry.lastAccess = now

	return entry.limiter.Allow()
}

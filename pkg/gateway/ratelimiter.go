package gateway

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultLimiterIdleTTL = 10 * time.Minute
	pruneThreshold        = 1024
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// UserRateLimiter keeps one token bucket per user id.
type UserRateLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
	limiters map[string]*limiterEntry
	now      func() time.Time
}

// NewUserRateLimiter allows perSecond sustained requests per user with the given
// burst. A non-positive rate disables limiting.
func NewUserRateLimiter(perSecond float64, burst int) *UserRateLimiter {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	return &UserRateLimiter{
		limit:    limit,
		burst:    burst,
		idleTTL:  defaultLimiterIdleTTL,
		limiters: make(map[string]*limiterEntry),
		now:      time.Now,
	}
}

// Allow reports whether a request for key may proceed now.
func (r *UserRateLimiter) Allow(key string) bool {
	r.mu.Lock()
	now := r.now()
	if len(r.limiters) >= pruneThreshold {
		r.pruneLocked(now)
	}
	entry, ok := r.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.limiters[key] = entry
	}
	entry.lastSeen = now
	r.mu.Unlock()

	return entry.limiter.AllowN(now, 1)
}

// Prune drops buckets idle longer than the TTL and returns how many were removed.
func (r *UserRateLimiter) Prune() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pruneLocked(r.now())
}

func (r *UserRateLimiter) pruneLocked(now time.Time) int {
	removed := 0
	for key, entry := range r.limiters {
		if now.Sub(entry.lastSeen) > r.idleTTL {
			delete(r.limiters, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked users.
func (r *UserRateLimiter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.limiters)
}

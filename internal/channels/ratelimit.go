package channels

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// maxTrackedCallers bounds memory when callers rotate addresses.
	maxTrackedCallers = 4096

	defaultCallerWindow  = time.Minute
	defaultCallerMaxHits = 30
)

type callerBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// CallerRateLimiter gives each caller (remote address for the HTTP relay
// endpoints) a token bucket of maxHits that refills over window. Safe for
// concurrent use.
type CallerRateLimiter struct {
	mu      sync.Mutex
	callers map[string]*callerBucket
	window  time.Duration
	maxHits int
	now     func() time.Time
}

// NewCallerRateLimiter creates a limiter allowing maxHits per window.
// Non-positive arguments select 30 hits per minute.
func NewCallerRateLimiter(window time.Duration, maxHits int) *CallerRateLimiter {
	if window <= 0 {
		window = defaultCallerWindow
	}
	if maxHits <= 0 {
		maxHits = defaultCallerMaxHits
	}
	return &CallerRateLimiter{
		callers: make(map[string]*callerBucket),
		window:  window,
		maxHits: maxHits,
		now:     time.Now,
	}
}

// Allow reports whether caller may make one more request now.
func (r *CallerRateLimiter) Allow(caller string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if len(r.callers) >= maxTrackedCallers {
		r.pruneLocked(now)
	}

	b, ok := r.callers[caller]
	if !ok {
		every := r.window / time.Duration(r.maxHits)
		b = &callerBucket{limiter: rate.NewLimiter(rate.Every(every), r.maxHits)}
		r.callers[caller] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// pruneLocked drops callers idle for a full window (their bucket has
// refilled, so forgetting them changes nothing), then evicts arbitrarily
// if the cap is still reached.
func (r *CallerRateLimiter) pruneLocked(now time.Time) {
	for k, b := range r.callers {
		if now.Sub(b.lastSeen) >= r.window {
			delete(r.callers, k)
		}
	}
	for k := range r.callers {
		if len(r.callers) < maxTrackedCallers {
			break
		}
		delete(r.callers, k)
	}
}

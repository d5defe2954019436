package tools

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/deskwing/deskwing/pkg/contracts"
)

// KeyedLimiter is the default per-tool rate limiter. Each key gets its
// own token bucket sized from the tool's per-minute budget.
type KeyedLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	perMin   map[string]int
}

var _ contracts.RateLimiter = (*KeyedLimiter)(nil)

// NewKeyedLimiter creates an empty limiter. SetLimit installs budgets as
// tools are registered.
func NewKeyedLimiter() *KeyedLimiter {
	return &KeyedLimiter{
		limiters: make(map[string]*rate.Limiter),
		perMin:   make(map[string]int),
	}
}

// SetLimit installs or replaces the per-minute budget for a key.
// A budget of 0 removes the limit.
func (l *KeyedLimiter) SetLimit(key string, perMinute int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if perMinute <= 0 {
		delete(l.limiters, key)
		delete(l.perMin, key)
		return
	}
	l.perMin[key] = perMinute
	l.limiters[key] = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
}

// Check consumes one token for key if available. Unlimited keys always
// pass. When the bucket is empty the reservation is cancelled and its
// delay returned so callers can surface a retry-after hint.
func (l *KeyedLimiter) Check(key string) (bool, time.Duration) {
	l.mu.Lock()
	limiter, ok := l.limiters[key]
	l.mu.Unlock()
	if !ok {
		return true, 0
	}

	res := limiter.Reserve()
	if !res.OK() {
		return false, time.Minute
	}
	delay := res.Delay()
	if delay > 0 {
		res.Cancel()
		return false, delay
	}
	return true, 0
}

package fetcher

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// AdaptiveLimiter is a rate.Limiter that speeds up by 20% after each
// success, up to twice its initial rate, and halves after a 429, down to a
// quarter of its initial rate.
type AdaptiveLimiter struct {
	host    string
	limiter *rate.Limiter

	mu      sync.Mutex
	current rate.Limit
	floor   rate.Limit
	ceiling rate.Limit
}

// NewAdaptiveLimiter returns a limiter starting at r events per second.
func NewAdaptiveLimiter(host string, r rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		host:    host,
		limiter: rate.NewLimiter(r, burst),
		current: r,
		floor:   r / 4,
		ceiling: r * 2,
	}
}

// Wait blocks until a request may proceed or ctx is done.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess nudges the rate up.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.setLocked(a.current * 1.2)
}

// OnRateLimit halves the rate.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.setLocked(a.current / 2)
	zap.L().Warn("fetcher: rate limited, slowing down",
		zap.String("host", a.host),
		zap.Float64("rate", float64(a.current)),
	)
}

// Limit returns the current rate.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

func (a *AdaptiveLimiter) setLocked(r rate.Limit) {
	if r > a.ceiling {
		r = a.ceiling
	}
	if r < a.floor {
		r = a.floor
	}
	a.current = r
	a.limiter.SetLimit(r)
}

// DefaultLimiters returns adaptive limiters for the upstream hosts we call.
func DefaultLimiters() map[string]*AdaptiveLimiter {
	return map[string]*AdaptiveLimiter{
		"api.the-odds-api.com": NewAdaptiveLimiter("api.the-odds-api.com", 1, 1),
		"site.api.espn.com":    NewAdaptiveLimiter("site.api.espn.com", 5, 5),
	}
}

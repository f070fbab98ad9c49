package sandbox

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// InvokeLimiter is a token bucket per plugin and capability.
type InvokeLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]map[string]*rate.Limiter
}

// NewInvokeLimiter allows perSecond calls per plugin and capability with
// bursts of up to burst calls. burst < 1 is treated as 1.
func NewInvokeLimiter(perSecond float64, burst int) *InvokeLimiter {
	if burst < 1 {
		burst = 1
	}
	return &InvokeLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]map[string]*rate.Limiter),
	}
}

// Allow takes one token for the pair, reporting false when none is left.
func (l *InvokeLimiter) Allow(pluginName, capabilityID string) bool {
	return l.get(pluginName, capabilityID).Allow()
}

func (l *InvokeLimiter) get(pluginName, capabilityID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	byCap, ok := l.limiters[pluginName]
	if !ok {
		byCap = make(map[string]*rate.Limiter)
		l.limiters[pluginName] = byCap
	}
	lim, ok := byCap[capabilityID]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		byCap[capabilityID] = lim
	}
	return lim
}

// Forget drops the buckets of pluginName.
func (l *InvokeLimiter) Forget(pluginName string) {
	l.mu.Lock()
	delete(l.limiters, pluginName)
	l.mu.Unlock()
}

// RateLimitMiddleware returns a middleware that rejects calls over the
// limiter's budget with ErrRateLimited.
func RateLimitMiddleware(l *InvokeLimiter) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, call *Call) (any, error) {
			if !l.Allow(call.Plugin, call.Capability) {
				return nil, fmt.Errorf("%w: %s", ErrRateLimited, call.Capability)
			}
			return next(ctx, call)
		}
	}
}

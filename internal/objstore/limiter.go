package objstore

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// adaptiveLimiter wraps a rate.Limiter that backs off when the store
// throttles and recovers on success. The rate stays within
// [initial/4, initial].
type adaptiveLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	initial rate.Limit
	min     rate.Limit
	current rate.Limit
}

func newAdaptiveLimiter(perSecond float64, burst int) *adaptiveLimiter {
	if perSecond <= 0 {
		return &adaptiveLimiter{limiter: rate.NewLimiter(rate.Inf, 0), initial: rate.Inf, current: rate.Inf}
	}
	if burst < 1 {
		burst = 1
	}
	lim := rate.Limit(perSecond)
	return &adaptiveLimiter{
		limiter: rate.NewLimiter(lim, burst),
		initial: lim,
		min:     lim / 4,
		current: lim,
	}
}

func (a *adaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// onSuccess raises the rate by 20%, up to the initial rate.
func (a *adaptiveLimiter) onSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current >= a.initial {
		return
	}
	next := a.current * 1.2
	if next > a.initial {
		next = a.initial
	}
	a.current = next
	a.limiter.SetLimit(next)
}

// onThrottle halves the rate, down to a quarter of the initial rate.
func (a *adaptiveLimiter) onThrottle() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.initial == rate.Inf {
		return
	}
	next := a.current * 0.5
	if next < a.min {
		next = a.min
	}
	a.current = next
	a.limiter.SetLimit(next)
	zap.L().Warn("objstore: throttled, reducing request rate",
		zap.Float64("new_rate", float64(next)),
	)
}

func (a *adaptiveLimiter) limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

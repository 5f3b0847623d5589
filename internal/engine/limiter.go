package engine

import (
	"context"
	mathrand "math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DomainLimiter enforces per-domain request spacing. Each domain gets
// a token-bucket limiter sized for its configured rate, and every wait
// adds a random jitter so request timing never settles into a
// detectable cadence.
type DomainLimiter struct {
	jitterMin time.Duration
	jitterMax time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewDomainLimiter creates a limiter with the given jitter range.
func NewDomainLimiter(jitterMin, jitterMax time.Duration) *DomainLimiter {
	if jitterMin <= 0 {
		jitterMin = 500 * time.Millisecond
	}
	if jitterMax <= jitterMin {
		jitterMax = jitterMin + 1500*time.Millisecond
	}
	return &DomainLimiter{
		jitterMin: jitterMin,
		jitterMax: jitterMax,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Wait blocks until at least rateLimit plus jitter has elapsed since
// the previous request to the domain. The first request to a domain
// proceeds immediately.
func (l *DomainLimiter) Wait(ctx context.Context, domain string, rateLimit time.Duration) error {
	if rateLimit <= 0 {
		return nil
	}

	l.mu.Lock()
	limiter, ok := l.limiters[domain]
	if !ok || limiter.Limit() != rate.Every(rateLimit) {
		limiter = rate.NewLimiter(rate.Every(rateLimit), 1)
		l.limiters[domain] = limiter
	}
	l.mu.Unlock()

	// Jitter runs before the token wait: spacing between Wait returns
	// is then never below rateLimit, while the jitter still smears the
	// cadence.
	jitter := l.jitterMin + time.Duration(mathrand.Int63n(int64(l.jitterMax-l.jitterMin)))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(jitter):
	}

	return limiter.Wait(ctx)
}

package http

import (
	"context"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultHostRPS is the request rate allowed per image host.
	DefaultHostRPS = 5.0

	initialBackoff    = 1 * time.Second
	maxBackoff        = 60 * time.Second
	backoffMultiplier = 2.0
)

// RateLimiter paces requests per host with a token bucket and remembers
// server-requested backoffs after a 429.
type RateLimiter struct {
	mu       sync.Mutex
	rps      float64
	custom   map[string]float64
	limiters map[string]*rate.Limiter
	backoff  map[string]*backoffState
}

type backoffState struct {
	until    time.Time
	duration time.Duration
}

// NewRateLimiter creates a limiter allowing rps requests per second to each host.
// Zero uses DefaultHostRPS; a negative rate disables pacing.
func NewRateLimiter(rps float64) *RateLimiter {
	if rps == 0 {
		rps = DefaultHostRPS
	}
	return &RateLimiter{
		rps:      rps,
		custom:   make(map[string]float64),
		limiters: make(map[string]*rate.Limiter),
		backoff:  make(map[string]*backoffState),
	}
}

// SetHostRate overrides the rate of a single host.
func (rl *RateLimiter) SetHostRate(host string, rps float64) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.custom[host] = rps
	delete(rl.limiters, host)
}

// Wait blocks until a request to rawURL is allowed, honoring any active backoff.
func (rl *RateLimiter) Wait(ctx context.Context, rawURL string) error {
	if rl == nil {
		return nil
	}
	host := hostOf(rawURL)

	rl.mu.Lock()
	var delay time.Duration
	if b, ok := rl.backoff[host]; ok {
		delay = time.Until(b.until)
	}
	limiter := rl.limiter(host)
	rl.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if limiter == nil {
		return nil
	}
	return limiter.Wait(ctx)
}

// RecordRateLimitError doubles the host backoff (or adopts retryAfter when
// longer) and returns the delay now in effect.
func (rl *RateLimiter) RecordRateLimitError(rawURL string, retryAfter time.Duration) time.Duration {
	if rl == nil {
		return retryAfter
	}
	host := hostOf(rawURL)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.backoff[host]
	switch {
	case !ok:
		b = &backoffState{duration: initialBackoff}
		rl.backoff[host] = b
	default:
		b.duration = time.Duration(float64(b.duration) * backoffMultiplier)
		if b.duration > maxBackoff {
			b.duration = maxBackoff
		}
	}
	if retryAfter > b.duration {
		b.duration = retryAfter
	}
	b.until = time.Now().Add(b.duration)
	return b.duration
}

// RecordSuccess clears the backoff of the host.
func (rl *RateLimiter) RecordSuccess(rawURL string) {
	if rl == nil {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.backoff, hostOf(rawURL))
}

// Backoff returns the remaining backoff for the host of rawURL.
func (rl *RateLimiter) Backoff(rawURL string) time.Duration {
	if rl == nil {
		return 0
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if b, ok := rl.backoff[hostOf(rawURL)]; ok {
		if d := time.Until(b.until); d > 0 {
			return d
		}
	}
	return 0
}

// limiter must be called with mu held. It returns nil for unpaced hosts.
func (rl *RateLimiter) limiter(host string) *rate.Limiter {
	rps := rl.rps
	if custom, ok := rl.custom[host]; ok {
		rps = custom
	}
	if rps <= 0 {
		return nil
	}
	if l, ok := rl.limiters[host]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(rps), 1)
	rl.limiters[host] = l
	return l
}

// hostOf extracts the host (without port) of a URL.
func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Hostname()
}

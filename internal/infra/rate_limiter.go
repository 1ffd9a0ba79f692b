package infra

import (
	"sync"
	"time"
)

// RateLimiter is a token-bucket limiter guarding outbound brokerage REST
// calls. Thread-safe.
type RateLimiter struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

// NewRateLimiter creates a limiter with the given burst size and refill
// rate (requests per second).
func NewRateLimiter(maxBurst int, perSecond float64) *RateLimiter {
	return &RateLimiter{
		tokens:     float64(maxBurst),
		maxTokens:  float64(maxBurst),
		refillRate: perSecond,
		lastRefill: time.Now(),
	}
}

// Wait blocks until a token is available.
func (r *RateLimiter) Wait() {
	for {
		r.mu.Lock()
		r.refill()
		if r.tokens >= 1 {
			r.tokens--
			r.mu.Unlock()
			return
		}
		wait := time.Duration(float64(time.Second) / r.refillRate)
		r.mu.Unlock()
		time.Sleep(wait)
	}
}

// TryAcquire takes a token without blocking.
func (r *RateLimiter) TryAcquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refill()
	if r.tokens < 1 {
		return false
	}
	r.tokens--
	return true
}

func (r *RateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(r.lastRefill).Seconds()
	r.tokens += elapsed * r.refillRate
	if r.tokens > r.maxTokens {
		r.tokens = r.maxTokens
	}
	r.lastRefill = now
}

package channels

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter wraps golang.org/x/time/rate with the per-channel-connector
// API the registry needs (allow, reserve, wait), so each ChannelConnector
// can throttle outbound sends without reimplementing a token bucket.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a new rate limiter.
// rate: tokens per second (e.g., 10 = 10 operations per second)
// capacity: maximum burst size (e.g., 20 = allow up to 20 operations at once)
func NewRateLimiter(ratePerSec float64, capacity int) *RateLimiter {
	if capacity <= 0 {
		capacity = 1
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(ratePerSec), capacity)}
}

// Wait blocks until a token is available or the context is cancelled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Allow returns true if a token is available, consuming it in the process.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// AllowN returns true if n tokens are available, consuming them in the process.
func (r *RateLimiter) AllowN(n int) bool {
	return r.limiter.AllowN(time.Now(), n)
}

// Tokens returns the current number of available tokens.
func (r *RateLimiter) Tokens() float64 {
	return r.limiter.Tokens()
}

// MultiRateLimiter manages multiple rate limiters for different operation
// types (e.g., separate limits per channel connector).
type MultiRateLimiter struct {
	limiters map[string]*RateLimiter
	mu       sync.RWMutex
}

// NewMultiRateLimiter creates a new multi-rate limiter.
func NewMultiRateLimiter() *MultiRateLimiter {
	return &MultiRateLimiter{limiters: make(map[string]*RateLimiter)}
}

// Add registers a rate limiter for a specific operation type.
func (m *MultiRateLimiter) Add(name string, ratePerSec float64, capacity int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiters[name] = NewRateLimiter(ratePerSec, capacity)
}

// Wait blocks until a token is available for the specified operation type.
func (m *MultiRateLimiter) Wait(ctx context.Context, name string) error {
	limiter := m.get(name)
	if limiter == nil {
		return ErrConfig(fmt.Sprintf("rate limiter %q not found", name), nil)
	}
	return limiter.Wait(ctx)
}

// Allow returns true if a token is available for the specified operation type.
// Channels with no configured limiter are allowed through unthrottled.
func (m *MultiRateLimiter) Allow(name string) bool {
	limiter := m.get(name)
	if limiter == nil {
		return true
	}
	return limiter.Allow()
}

func (m *MultiRateLimiter) get(name string) *RateLimiter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.limiters[name]
}

// Package ratelimit throttles outbound deliveries per webhook.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter keeps one token bucket per webhook. The bucket refills at the
// webhook's rate limit per second and holds at most one second of tokens.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a new rate limiter.
func New() *Limiter {
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether a delivery to webhookID may proceed now.
// A rateLimit of 0 means unlimited.
func (l *Limiter) Allow(webhookID string, rateLimit int) bool {
	if rateLimit <= 0 {
		return true
	}
	return l.get(webhookID, rateLimit).Allow()
}

// Wait blocks until a delivery to webhookID may proceed or ctx is done.
// A rateLimit of 0 means unlimited.
func (l *Limiter) Wait(ctx context.Context, webhookID string, rateLimit int) error {
	if rateLimit <= 0 {
		return nil
	}
	return l.get(webhookID, rateLimit).Wait(ctx)
}

// Reset drops the bucket of a webhook.
func (l *Limiter) Reset(webhookID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, webhookID)
}

// get returns the bucket for webhookID. A changed limit starts a fresh bucket.
func (l *Limiter) get(webhookID string, rateLimit int) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[webhookID]
	if !ok || lim.Burst() != rateLimit {
		lim = rate.NewLimiter(rate.Limit(rateLimit), rateLimit)
		l.limiters[webhookID] = lim
	}
	return lim
}

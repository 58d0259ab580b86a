package validation

import (
	"sync"
	"time"
)

// RateLimiter meters messages per helm with a continuously refilling token
// bucket. Buckets idle for two windows are swept on the next Allow call
// after a window has passed.
type RateLimiter struct {
	burst     float64
	perSecond float64
	window    time.Duration

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
	closed    bool
}

type bucket struct {
	tokens  float64
	updated time.Time
}

// NewRateLimiter allows maxRequests per window for each client, with bursts
// of up to maxRequests
func NewRateLimiter(maxRequests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		burst:     float64(maxRequests),
		perSecond: float64(maxRequests) / window.Seconds(),
		window:    window,
		buckets:   make(map[string]*bucket),
		lastSweep: time.Now(),
	}
}

// Allow reports whether clientID may send another message now. A closed
// limiter denies everything.
func (rl *RateLimiter) Allow(clientID string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.closed {
		return false
	}
	if now.Sub(rl.lastSweep) >= rl.window {
		rl.sweep(now.Add(-2 * rl.window))
		rl.lastSweep = now
	}

	b, ok := rl.buckets[clientID]
	if !ok {
		b = &bucket{tokens: rl.burst, updated: now}
		rl.buckets[clientID] = b
	} else {
		b.tokens = min(rl.burst, b.tokens+now.Sub(b.updated).Seconds()*rl.perSecond)
		b.updated = now
	}

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Remove forgets clientID
func (rl *RateLimiter) Remove(clientID string) {
	rl.mu.Lock()
	delete(rl.buckets, clientID)
	rl.mu.Unlock()
}

// Clients returns the number of tracked clients
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// sweep drops buckets untouched since cutoff; rl.mu must be held
func (rl *RateLimiter) sweep(cutoff time.Time) {
	for id, b := range rl.buckets {
		if b.updated.Before(cutoff) {
			delete(rl.buckets, id)
		}
	}
}

// Close drops all buckets and denies further messages
func (rl *RateLimiter) Close() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.closed = true
	rl.buckets = make(map[string]*bucket)
}

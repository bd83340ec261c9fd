package safety

import (
	"context"
	"sync"
	"time"
)

// RateLimiter admits at most limit events per sliding window. Admitted
// timestamps live in a fixed ring so each call touches only the oldest slot.
type RateLimiter struct {
	name   string
	limit  int
	window time.Duration

	mutex sync.Mutex
	ring  []time.Time
	head  int
	count int
}

// NewRateLimiter creates a limiter; limit <= 0 admits everything
func NewRateLimiter(name string, limit int, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Second
	}
	rl := &RateLimiter{name: name, limit: limit, window: window}
	if limit > 0 {
		rl.ring = make([]time.Time, limit)
	}
	return rl
}

// Allow records an attempt at the current time if the window has room
func (rl *RateLimiter) Allow() bool {
	return rl.AllowAt(time.Now())
}

// AllowAt records an attempt at t if the window has room
func (rl *RateLimiter) AllowAt(t time.Time) bool {
	if rl.limit <= 0 {
		return true
	}
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	rl.evict(t)
	if rl.count == rl.limit {
		return false
	}
	rl.ring[(rl.head+rl.count)%rl.limit] = t
	rl.count++
	return true
}

// evict drops the oldest slot while it has left the window
func (rl *RateLimiter) evict(t time.Time) {
	for rl.count > 0 && t.Sub(rl.ring[rl.head]) >= rl.window {
		rl.head = (rl.head + 1) % rl.limit
		rl.count--
	}
}

// Wait blocks until an attempt is admitted
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		if rl.Allow() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(rl.nextSlot(time.Now())):
		}
	}
}

// nextSlot returns how long until the oldest admitted attempt leaves the window
func (rl *RateLimiter) nextSlot(now time.Time) time.Duration {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()
	if rl.count < rl.limit {
		return 0
	}
	wait := rl.ring[rl.head].Add(rl.window).Sub(now)
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return wait
}

// GetStats returns current statistics about the rate limiter
func (rl *RateLimiter) GetStats() RateLimiterStats {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()
	if rl.limit > 0 {
		rl.evict(time.Now())
	}
	return RateLimiterStats{
		Name:     rl.name,
		Limit:    rl.limit,
		InWindow: rl.count,
		Window:   rl.window,
	}
}

// RateLimiterStats holds statistics about a rate limiter
type RateLimiterStats struct {
	Name     string
	Limit    int
	InWindow int
	Window   time.Duration
}

package agent

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket throttling provider API calls across
// all conversations and subagents.
type RateLimiter struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	perSec   float64
	last     time.Time
}

func NewRateLimiter(burst int, perMinute float64) *RateLimiter {
	if burst <= 0 {
		burst = 5
	}
	if perMinute <= 0 {
		perMinute = 30
	}
	return &RateLimiter{
		tokens:   float64(burst),
		capacity: float64(burst),
		perSec:   perMinute / 60.0,
		last:     time.Now(),
	}
}

// Wait blocks until a token is available or the context is cancelled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		rl.mu.Lock()
		rl.refill(time.Now())
		if rl.tokens >= 1.0 {
			rl.tokens -= 1.0
			rl.mu.Unlock()
			return nil
		}
		wait := time.Duration((1.0 - rl.tokens) / rl.perSec * float64(time.Second))
		rl.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (rl *RateLimiter) refill(now time.Time) {
	elapsed := now.Sub(rl.last).Seconds()
	rl.tokens += elapsed * rl.perSec
	if rl.tokens > rl.capacity {
		rl.tokens = rl.capacity
	}
	rl.last = now
}

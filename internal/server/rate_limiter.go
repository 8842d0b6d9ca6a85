// Package server implements a token bucket rate limiter for per-connection
// throttling of chat lines.
package server

import (
	"time"
)

// rateLimiter is a token bucket. It is only touched by the hub goroutine.
type rateLimiter struct {
	tokens    float64
	capacity  float64
	rate      float64
	lastCheck time.Time
	now       func() time.Time
}

// newRateLimiter returns nil when cfg disables limiting.
func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	if cfg.Burst <= 0 {
		return nil
	}
	interval := cfg.RefillInterval
	if interval <= 0 {
		interval = time.Second
	}

	return &rateLimiter{
		tokens:    float64(cfg.Burst),
		capacity:  float64(cfg.Burst),
		rate:      float64(cfg.Burst) / interval.Seconds(),
		lastCheck: time.Now(),
		now:       time.Now,
	}
}

func (rl *rateLimiter) allow() bool {
	now := rl.now()
	elapsed := now.Sub(rl.lastCheck).Seconds()
	rl.lastCheck = now

	if elapsed > 0 {
		rl.tokens = min(rl.tokens+elapsed*rl.rate, rl.capacity)
	}

	if rl.tokens < 1 {
		return false
	}

	rl.tokens--
	return true
}

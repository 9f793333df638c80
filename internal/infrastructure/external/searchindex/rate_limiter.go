package searchindex

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMITER - Token Bucket
// ══════════════════════════════════════════════════════════════════════════════

// RateLimiter is a token bucket guarding the search index. A prefilter call
// that cannot get a token within the wait budget is skipped; the caller then
// scores the full catalog.
type RateLimiter struct {
	mu sync.Mutex

	maxTokens  float64
	refillRate float64
	tokens     float64
	lastRefill time.Time
	maxWait    time.Duration
	now        func() time.Time
}

// RateLimiterConfig configures the bucket.
type RateLimiterConfig struct {
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	BurstSize         int           `mapstructure:"burst"`
	MaxWait           time.Duration `mapstructure:"max_wait"`
}

// DefaultRateLimiterConfig returns the default bucket.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerSecond: 50,
		BurstSize:         20,
		MaxWait:           50 * time.Millisecond,
	}
}

// NewRateLimiter creates a full bucket.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = DefaultRateLimiterConfig().RequestsPerSecond
	}
	if config.BurstSize <= 0 {
		config.BurstSize = 1
	}
	return &RateLimiter{
		maxTokens:  float64(config.BurstSize),
		refillRate: config.RequestsPerSecond,
		tokens:     float64(config.BurstSize),
		lastRefill: time.Now(),
		maxWait:    config.MaxWait,
		now:        time.Now,
	}
}

// Wait takes a token, sleeping up to the wait budget for one to appear.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	wait, ok := rl.reserve()
	if ok {
		return nil
	}
	if wait > rl.maxWait {
		return fmt.Errorf("search index rate limit: next token in %s", wait)
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	if _, ok := rl.reserve(); !ok {
		return fmt.Errorf("search index rate limit: no token after %s", wait)
	}
	return nil
}

// reserve consumes a token, or reports how long until one is available.
func (rl *RateLimiter) reserve() (time.Duration, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if elapsed := now.Sub(rl.lastRefill).Seconds(); elapsed > 0 {
		rl.tokens += elapsed * rl.refillRate
		if rl.tokens > rl.maxTokens {
			rl.tokens = rl.maxTokens
		}
		rl.lastRefill = now
	}

	if rl.tokens >= 1 {
		rl.tokens--
		return 0, true
	}
	need := 1 - rl.tokens
	return time.Duration(need / rl.refillRate * float64(time.Second)), false
}

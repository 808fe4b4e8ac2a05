package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter throttles payload requests. Three layers apply in order: a
// global limit across all targets, a per-target limit taken from the
// target's configured rate, and a minimum delay between requests to
// the same host.
type Limiter struct {
	global         *rate.Limiter
	targetLimiters map[string]*rate.Limiter
	requestDelay   time.Duration
	burstSize      int
	lastRequestMap map[string]time.Time
	mu             sync.Mutex
}

// Config contains rate limiting configuration
type Config struct {
	// RequestsPerSecond limits the number of requests per second
	RequestsPerSecond float64

	// BurstSize allows brief bursts above the rate limit
	BurstSize int

	// MinDelay is the minimum delay between requests to the same host
	MinDelay time.Duration
}

// DefaultConfig returns rate limiting defaults suited to authorized
// bug bounty testing.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 10.0,
		BurstSize:         1,
		MinDelay:          100 * time.Millisecond,
	}
}

// AggressiveConfig returns a faster (but still polite) profile.
func AggressiveConfig() Config {
	return Config{
		RequestsPerSecond: 20.0,
		BurstSize:         5,
		MinDelay:          50 * time.Millisecond,
	}
}

// ConservativeConfig returns a very slow profile for fragile programs.
func ConservativeConfig() Config {
	return Config{
		RequestsPerSecond: 2.0,
		BurstSize:         1,
		MinDelay:          500 * time.Millisecond,
	}
}

// NewLimiter creates a new rate limiter with the given configuration
func NewLimiter(config Config) *Limiter {
	return &Limiter{
		global:         rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.BurstSize),
		targetLimiters: make(map[string]*rate.Limiter),
		requestDelay:   config.MinDelay,
		burstSize:      config.BurstSize,
		lastRequestMap: make(map[string]time.Time),
	}
}

// Wait blocks until both the global limit and the target's own limit
// allow a request. Satisfies the interlock contract: it never sends
// anything itself, callers still go through scope validation.
func (l *Limiter) Wait(ctx context.Context, target string) error {
	if err := l.global.Wait(ctx); err != nil {
		return err
	}

	l.mu.Lock()
	tl, ok := l.targetLimiters[target]
	l.mu.Unlock()
	if ok {
		if err := tl.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// WaitForHost additionally enforces the per-host minimum delay.
func (l *Limiter) WaitForHost(ctx context.Context, target, host string) error {
	if err := l.Wait(ctx, target); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if lastReq, exists := l.lastRequestMap[host]; exists {
		elapsed := time.Since(lastReq)
		if elapsed < l.requestDelay {
			sleepDuration := l.requestDelay - elapsed
			select {
			case <-time.After(sleepDuration):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	l.lastRequestMap[host] = time.Now()
	return nil
}

// Allow checks if a request is allowed without blocking
func (l *Limiter) Allow() bool {
	return l.global.Allow()
}

// SetLimit sets a target-specific rate. Zero or negative removes the
// target override, leaving only the global limit.
func (l *Limiter) SetLimit(target string, requestsPerSecond int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if requestsPerSecond <= 0 {
		delete(l.targetLimiters, target)
		return
	}
	if tl, ok := l.targetLimiters[target]; ok {
		tl.SetLimit(rate.Limit(requestsPerSecond))
		return
	}
	l.targetLimiters[target] = rate.NewLimiter(rate.Limit(requestsPerSecond), l.burstSize)
}

// SetGlobalLimit updates the global rate dynamically.
func (l *Limiter) SetGlobalLimit(requestsPerSecond float64) {
	l.global.SetLimit(rate.Limit(requestsPerSecond))
}

// Reset clears per-target and per-host state (useful for testing)
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.targetLimiters = make(map[string]*rate.Limiter)
	l.lastRequestMap = make(map[string]time.Time)
}

// GetStats returns current rate limiter statistics
func (l *Limiter) GetStats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return Stats{
		TrackedHosts:   len(l.lastRequestMap),
		TrackedTargets: len(l.targetLimiters),
		BurstSize:      l.burstSize,
		RequestDelay:   l.requestDelay,
	}
}

// Stats contains rate limiter statistics
type Stats struct {
	TrackedHosts   int
	TrackedTargets int
	BurstSize      int
	RequestDelay   time.Duration
}

package monitoring

import (
	"context"
	"sync"
	"time"
)

// RateLimiter caps backend requests per wall-clock second.
type RateLimiter struct {
	mu        sync.Mutex
	limit     int
	windowSec int64
	count     int

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// NewRateLimiter creates a limiter allowing limit requests per second.
func NewRateLimiter(limit int) *RateLimiter {
	if limit < 1 {
		limit = 1
	}
	return &RateLimiter{limit: limit, now: time.Now, after: time.After}
}

// Allow reports whether one more request fits in the second containing now.
func (l *RateLimiter) Allow(now time.Time) bool {
	sec := now.UTC().Unix()
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.windowSec != sec {
		l.windowSec = sec
		l.count = 0
	}
	if l.count >= l.limit {
		return false
	}
	l.count++
	return true
}

// Wait blocks until a request is allowed or ctx is done.
func (l *RateLimiter) Wait(ctx context.Context) error {
	for {
		now := l.now()
		if l.Allow(now) {
			return nil
		}
		next := now.Truncate(time.Second).Add(time.Second)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.after(next.Sub(now)):
		}
	}
}

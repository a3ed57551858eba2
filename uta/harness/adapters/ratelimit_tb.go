package adapters

import (
	"context"
	"fmt"
	"sync"
	"time"

	ports "github.com/ZanzyTHEbar/tester-agent/uta/harness/ports"
)

// TokenBucket rate limits calls per key. Each key starts with capacity tokens
// and regains one every refillRate. Acquire blocks until a token is free or
// ctx is done.
type TokenBucket struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	capacity   int
	refillRate time.Duration
	now        func() time.Time
}

type bucket struct {
	tokens     int
	lastRefill time.Time
}

// NewTokenBucket creates a limiter. Non-positive arguments fall back to a
// single token refilled every second.
func NewTokenBucket(capacity int, refillRate time.Duration) *TokenBucket {
	if capacity < 1 {
		capacity = 1
	}
	if refillRate <= 0 {
		refillRate = time.Second
	}
	return &TokenBucket{
		buckets:    make(map[string]*bucket),
		capacity:   capacity,
		refillRate: refillRate,
		now:        time.Now,
	}
}

// Acquire takes a token for key. The returned release func is a no-op kept
// for the port contract; tokens come back only through refill.
func (tb *TokenBucket) Acquire(ctx context.Context, key string) (func(), error) {
	for {
		wait, ok := tb.take(key)
		if ok {
			return func() {}, nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, &RateLimitError{Key: key, Err: ctx.Err()}
		case <-timer.C:
		}
	}
}

// take consumes a token if one is available, otherwise reports how long until
// the next refill.
func (tb *TokenBucket) take(key string) (time.Duration, bool) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	b, ok := tb.buckets[key]
	if !ok {
		b = &bucket{tokens: tb.capacity, lastRefill: now}
		tb.buckets[key] = b
	}

	if refill := int(now.Sub(b.lastRefill) / tb.refillRate); refill > 0 {
		b.tokens = min(b.tokens+refill, tb.capacity)
		b.lastRefill = b.lastRefill.Add(time.Duration(refill) * tb.refillRate)
	}

	if b.tokens > 0 {
		b.tokens--
		return 0, true
	}
	return tb.refillRate - now.Sub(b.lastRefill), false
}

// RateLimitError is returned when ctx ends before a token became available.
type RateLimitError struct {
	Key string
	Err error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit %q: %v", e.Key, e.Err)
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

var _ ports.RateLimiter = (*TokenBucket)(nil)

package harnessports

import "context"

// RateLimiter coordinates throughput to external endpoints (agent, judge).
type RateLimiter interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

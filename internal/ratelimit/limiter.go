// Package ratelimit implements sliding-window request throttling keyed by
// (route class, caller key). It is a gate, not a queue: callers get an
// allow/deny decision plus a retry-after hint, never blocking.
package ratelimit

import (
	"context"
	"time"
)

// Result is the outcome of one Allow call. Member identifies the slot this
// request consumed so routes that only count failures can refund it.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	ResetAt    time.Time
	Member     string
}

// Limiter is the sliding-window counter contract. Counters may be slightly
// approximate at window boundaries under extreme concurrency, but a limiter
// is never silently disabled: backend errors surface to the caller.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error)
	Refund(ctx context.Context, key, member string) error
}

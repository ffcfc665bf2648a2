package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/WIREMI/wiremi-auth/internal/utils"
)

type slot struct {
	at     time.Time
	member string
}

// MemoryLimiter is the process-local fallback used when redis is not
// configured or unreachable at startup. Same window semantics as the redis
// limiter, scoped to one instance.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string][]slot
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{windows: map[string][]slot{}}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (Result, error) {
	now := time.Now()
	suffix, err := utils.SecureRandomToken(6)
	if err != nil {
		return Result{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Trim everything that slid out of the window; empty keys are removed
	// so the map does not grow without bound.
	cutoff := now.Add(-window)
	kept := l.windows[key][:0]
	for _, s := range l.windows[key] {
		if s.at.After(cutoff) {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(l.windows, key)
	} else {
		l.windows[key] = kept
	}

	if len(kept) >= limit {
		retry := kept[0].at.Add(window).Sub(now)
		if retry < 0 {
			retry = 0
		}
		return Result{Limit: limit, RetryAfter: retry, ResetAt: now.Add(retry)}, nil
	}

	member := fmt.Sprintf("%d-%s", now.UnixMilli(), suffix)
	l.windows[key] = append(kept, slot{at: now, member: member})
	return Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - len(kept) - 1,
		ResetAt:   now.Add(window),
		Member:    member,
	}, nil
}

func (l *MemoryLimiter) Refund(_ context.Context, key, member string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	slots := l.windows[key]
	for i, s := range slots {
		if s.member == member {
			l.windows[key] = append(slots[:i], slots[i+1:]...)
			return nil
		}
	}
	return nil
}

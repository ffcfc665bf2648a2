package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLimiterEnforcesLimit(t *testing.T) {
	l := NewMemoryLimiter()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := l.Allow(ctx, "k", 2, time.Minute)
		if err != nil || !res.Allowed {
			t.Fatalf("request %d: res=%+v err=%v", i, res, err)
		}
	}
	res, err := l.Allow(ctx, "k", 2, time.Minute)
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if res.Allowed {
		t.Fatal("third request should be denied")
	}
	if res.RetryAfter <= 0 || res.RetryAfter > time.Minute {
		t.Fatalf("unexpected retry hint: %v", res.RetryAfter)
	}
}

func TestMemoryLimiterWindowSlides(t *testing.T) {
	l := NewMemoryLimiter()
	ctx := context.Background()

	if res, _ := l.Allow(ctx, "k", 1, 10*time.Millisecond); !res.Allowed {
		t.Fatal("first request should be allowed")
	}
	if res, _ := l.Allow(ctx, "k", 1, 10*time.Millisecond); res.Allowed {
		t.Fatal("second request inside the window should be denied")
	}
	time.Sleep(15 * time.Millisecond)
	if res, _ := l.Allow(ctx, "k", 1, 10*time.Millisecond); !res.Allowed {
		t.Fatal("request after the window should be allowed")
	}
}

func TestMemoryLimiterRefund(t *testing.T) {
	l := NewMemoryLimiter()
	ctx := context.Background()

	res, err := l.Allow(ctx, "k", 1, time.Minute)
	if err != nil || !res.Allowed {
		t.Fatalf("Allow: res=%+v err=%v", res, err)
	}
	if err := l.Refund(ctx, "k", res.Member); err != nil {
		t.Fatalf("Refund failed: %v", err)
	}
	if res, _ := l.Allow(ctx, "k", 1, time.Minute); !res.Allowed {
		t.Fatal("refunded slot must be reusable")
	}
	// Refunding an unknown member is a no-op.
	if err := l.Refund(ctx, "k", "missing"); err != nil {
		t.Fatalf("Refund of unknown member failed: %v", err)
	}
}

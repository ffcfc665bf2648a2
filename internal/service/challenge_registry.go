package service

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ChallengeRegistry records redeemed MFA challenge IDs so a challenge
// token completes at most one login. Backed by redis when available so
// redemption is shared across instances; otherwise a per-instance map.
type ChallengeRegistry struct {
	rdb *redis.Client
	log *zap.Logger

	mu   sync.Mutex
	seen map[string]time.Time
}

func NewChallengeRegistry(rdb *redis.Client, log *zap.Logger) *ChallengeRegistry {
	return &ChallengeRegistry{rdb: rdb, log: log, seen: map[string]time.Time{}}
}

// Consume marks the challenge ID as redeemed and reports whether this call
// was the first to do so. Retention only needs to outlive the challenge
// token itself; expired entries are pruned opportunistically.
func (r *ChallengeRegistry) Consume(ctx context.Context, challengeID string, ttl time.Duration) bool {
	if r.rdb != nil {
		first, err := r.rdb.SetNX(ctx, "mfa_challenge:"+challengeID, 1, ttl).Result()
		if err == nil {
			return first
		}
		r.log.Warn("challenge registry redis write failed, using memory", zap.Error(err))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for id, exp := range r.seen {
		if now.After(exp) {
			delete(r.seen, id)
		}
	}
	if _, spent := r.seen[challengeID]; spent {
		return false
	}
	r.seen[challengeID] = now.Add(ttl)
	return true
}

package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Grants is the flattened role/permission set embedded into access tokens.
type Grants struct {
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

// GrantCache caches resolved grants in redis for at most one access-token
// lifetime. Login may serve from cache; refresh always bypasses it, so a
// revoked role takes effect on the next refresh at the latest. A nil
// GrantCache is a valid no-op (demo mode without redis).
type GrantCache struct {
	rdb *redis.Client
	ttl time.Duration
	log *zap.Logger
}

func NewGrantCache(rdb *redis.Client, ttl time.Duration, log *zap.Logger) *GrantCache {
	if rdb == nil {
		return nil
	}
	return &GrantCache{rdb: rdb, ttl: ttl, log: log}
}

func (c *GrantCache) key(userID string) string { return "grants:" + userID }

// Get returns the cached grants and whether there was a hit. Cache errors
// degrade to a miss.
func (c *GrantCache) Get(ctx context.Context, userID string) (*Grants, bool) {
	if c == nil {
		return nil, false
	}
	data, err := c.rdb.Get(ctx, c.key(userID)).Bytes()
	if err != nil {
		return nil, false
	}
	var g Grants
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, false
	}
	return &g, true
}

// Set stores the grants. Best-effort.
func (c *GrantCache) Set(ctx context.Context, userID string, g Grants) {
	if c == nil {
		return
	}
	data, err := json.Marshal(g)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, c.key(userID), data, c.ttl).Err(); err != nil {
		c.log.Warn("grant cache set failed", zap.Error(err))
	}
}

// Invalidate drops the cached grants after a role change.
func (c *GrantCache) Invalidate(ctx context.Context, userID string) {
	if c == nil {
		return
	}
	if err := c.rdb.Del(ctx, c.key(userID)).Err(); err != nil {
		c.log.Warn("grant cache invalidate failed", zap.Error(err))
	}
}

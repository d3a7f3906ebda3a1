package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sshwatch/internal/bucketing"
	"sshwatch/internal/client"
	"sshwatch/internal/models"
)

// ReputationCache caches reputation-provider responses per IP for a few
// hours, keeping the external API out of the hot path.
type ReputationCache struct {
	redis     *client.RedisClient
	bucketing *bucketing.Manager
	ttl       time.Duration
	logger    *zap.Logger
}

// NewReputationCache creates the reputation cache.
func NewReputationCache(redisClient *client.RedisClient, bm *bucketing.Manager, ttl time.Duration, logger *zap.Logger) *ReputationCache {
	return &ReputationCache{
		redis:     redisClient,
		bucketing: bm,
		ttl:       ttl,
		logger:    logger,
	}
}

// Get returns the cached entry or (nil, nil) on a miss.
func (c *ReputationCache) Get(ctx context.Context, ip string) (*models.ReputationInfo, error) {
	key := c.bucketing.CacheKey("rep", ip)

	raw, err := c.redis.Get(ctx, key)
	if err != nil {
		if err == client.ErrCacheMiss {
			return nil, nil
		}
		return nil, fmt.Errorf("reputation cache get: %w", err)
	}

	var info models.ReputationInfo
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		_ = c.redis.Del(ctx, key)
		return nil, nil
	}
	return &info, nil
}

// Set stores the entry for the configured TTL.
func (c *ReputationCache) Set(ctx context.Context, info *models.ReputationInfo) error {
	raw, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("reputation cache encode: %w", err)
	}

	key := c.bucketing.CacheKey("rep", info.IP)
	if err := c.redis.Set(ctx, key, raw, c.ttl); err != nil {
		return fmt.Errorf("reputation cache set: %w", err)
	}
	return nil
}

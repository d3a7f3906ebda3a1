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

// GeoCache caches geolocation lookups per IP with a long TTL (a month by
// default). Keys are sharded through the bucketing manager.
type GeoCache struct {
	redis     *client.RedisClient
	bucketing *bucketing.Manager
	ttl       time.Duration
	logger    *zap.Logger
}

// NewGeoCache creates the geolocation cache.
func NewGeoCache(redisClient *client.RedisClient, bm *bucketing.Manager, ttl time.Duration, logger *zap.Logger) *GeoCache {
	return &GeoCache{
		redis:     redisClient,
		bucketing: bm,
		ttl:       ttl,
		logger:    logger,
	}
}

// Get returns the cached entry or (nil, nil) on a miss. Transport errors are
// returned so the caller can decide to degrade.
func (c *GeoCache) Get(ctx context.Context, ip string) (*models.GeoInfo, error) {
	key := c.bucketing.CacheKey("geo", ip)

	raw, err := c.redis.Get(ctx, key)
	if err != nil {
		if err == client.ErrCacheMiss {
			return nil, nil
		}
		return nil, fmt.Errorf("geo cache get: %w", err)
	}

	var info models.GeoInfo
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		// Corrupt entries are dropped and treated as a miss.
		_ = c.redis.Del(ctx, key)
		return nil, nil
	}
	return &info, nil
}

// Set stores the entry for the configured TTL.
func (c *GeoCache) Set(ctx context.Context, info *models.GeoInfo) error {
	raw, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("geo cache encode: %w", err)
	}

	key := c.bucketing.CacheKey("geo", info.IP)
	if err := c.redis.Set(ctx, key, raw, c.ttl); err != nil {
		return fmt.Errorf("geo cache set: %w", err)
	}
	return nil
}

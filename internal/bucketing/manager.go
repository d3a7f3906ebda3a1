package bucketing

import (
	"fmt"
	"hash"
	"sync"

	"github.com/spaolacci/murmur3"

	"sshwatch/internal/config"
)

// Manager shards provider-cache keys so geo and reputation entries spread
// across a fixed number of key prefixes. Sharding keeps hot-IP cache churn
// from clustering on one keyspace slot and gives batch invalidation a stable
// prefix to scan.
type Manager struct {
	cacheShards int
	hasherPool  sync.Pool
}

// NewManager builds the manager with a pooled murmur3 hasher.
func NewManager(cfg *config.Config) *Manager {
	m := &Manager{
		cacheShards: cfg.Bucketing.CacheShards,
	}
	if m.cacheShards <= 0 {
		m.cacheShards = 16
	}

	m.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return m
}

// CacheShard returns the shard index for an address, stable across restarts.
func (m *Manager) CacheShard(ip string) int {
	return int(m.hashKey(ip) % uint64(m.cacheShards))
}

// CacheKey renders the sharded cache key for a namespace and address,
// e.g. "geo:7:203.0.113.9".
func (m *Manager) CacheKey(namespace, ip string) string {
	return fmt.Sprintf("%s:%d:%s", namespace, m.CacheShard(ip), ip)
}

// Shards exposes the configured shard count.
func (m *Manager) Shards() int {
	return m.cacheShards
}

func (m *Manager) hashKey(key string) uint64 {
	hasher := m.hasherPool.Get().(hash.Hash64)
	defer m.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}

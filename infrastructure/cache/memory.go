// Package cache provides ports.CacheStore implementations.
package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/ahrav/go-verifier/internal/ports"
)

// Default expiration settings for MemoryCache.
const (
	DefaultTTL             = time.Hour
	DefaultCleanupInterval = 10 * time.Minute
)

// MemoryCache is an in-process ports.CacheStore with per-entry expiry.
// It is safe for concurrent use.
type MemoryCache struct {
	cache *gocache.Cache
}

var _ ports.CacheStore = (*MemoryCache)(nil)

// NewMemoryCache creates a cache whose entries expire after defaultTTL
// unless Set is given a positive expiration. Expired entries are purged
// every cleanupInterval.
func NewMemoryCache(defaultTTL, cleanupInterval time.Duration) *MemoryCache {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}
	return &MemoryCache{cache: gocache.New(defaultTTL, cleanupInterval)}
}

// Get retrieves a value from the cache.
func (c *MemoryCache) Get(ctx context.Context, key string) (any, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	val, found := c.cache.Get(key)
	return val, found, nil
}

// Set stores a value. A zero expiration uses the cache default.
func (c *MemoryCache) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if expiration <= 0 {
		expiration = gocache.DefaultExpiration
	}
	c.cache.Set(key, value, expiration)
	return nil
}

// Delete removes a value from the cache.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.cache.Delete(key)
	return nil
}

// Clear removes all values from the cache.
func (c *MemoryCache) Clear(context.Context) error {
	c.cache.Flush()
	return nil
}

// Len returns the number of entries, including expired ones not yet purged.
func (c *MemoryCache) Len() int { return c.cache.ItemCount() }

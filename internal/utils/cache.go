package utils

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// countItem wraps a cached count with its expiry.
type countItem struct {
	Count     int64
	ExpiresAt time.Time
}

// CountCache is a small local LRU for relationship counts keyed by
// (kind, target). Writers drop the entry after committing, so a toggle is
// always visible to the next read.
type CountCache struct {
	lruCache *lru.Cache[string, countItem]
	ttl      time.Duration
	now      func() time.Time
}

// NewCountCache creates a cache holding at most size entries for ttl each.
func NewCountCache(size int, ttl time.Duration) (*CountCache, error) {
	if size <= 0 {
		size = 500
	}
	l, err := lru.New[string, countItem](size)
	if err != nil {
		return nil, fmt.Errorf("create count cache: %w", err)
	}
	return &CountCache{lruCache: l, ttl: ttl, now: time.Now}, nil
}

func countKey(kind string, target uint) string {
	return fmt.Sprintf("%s:%d", kind, target)
}

// Get returns the cached count, or false if absent or expired.
func (c *CountCache) Get(kind string, target uint) (int64, bool) {
	key := countKey(kind, target)
	val, ok := c.lruCache.Get(key)
	if !ok {
		return 0, false
	}

	if c.now().After(val.ExpiresAt) {
		c.lruCache.Remove(key)
		return 0, false
	}
	return val.Count, true
}

func (c *CountCache) Set(kind string, target uint, count int64) {
	c.lruCache.Add(countKey(kind, target), countItem{
		Count:     count,
		ExpiresAt: c.now().Add(c.ttl),
	})
}

func (c *CountCache) Delete(kind string, target uint) {
	c.lruCache.Remove(countKey(kind, target))
}

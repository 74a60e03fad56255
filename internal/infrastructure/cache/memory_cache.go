// Package cache provides the bounded in-memory cache owned by the memory
// gateway. Eviction is explicit LRU + TTL; nothing grows without bound.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MemoryCache is a thread-safe in-memory cache with LRU eviction and
// per-item TTL.
type MemoryCache struct {
	mu          sync.Mutex
	items       map[string]*cacheItem
	lruList     *list.List
	maxItems    int
	maxMemory   int64
	currentSize int64

	hits      int64
	misses    int64
	evictions int64

	logger *zap.Logger
}

type cacheItem struct {
	key        string
	value      []byte
	size       int64
	expiry     time.Time
	lruElement *list.Element
}

// NewMemoryCache creates a cache bounded by item count and total byte size.
func NewMemoryCache(maxItems int, maxMemory int64, logger *zap.Logger) *MemoryCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryCache{
		items:     make(map[string]*cacheItem),
		lruList:   list.New(),
		maxItems:  maxItems,
		maxMemory: maxMemory,
		logger:    logger,
	}
}

// Get retrieves a value, refreshing its LRU position.
func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, exists := c.items[key]
	if !exists {
		c.misses++
		return nil, false
	}

	if time.Now().After(item.expiry) {
		c.removeItem(item)
		c.misses++
		return nil, false
	}

	c.lruList.MoveToFront(item.lruElement)
	c.hits++

	value := make([]byte, len(item.value))
	copy(value, item.value)
	return value, true
}

// Set stores a value with the given TTL, evicting LRU items to make room.
// Items larger than the cache are silently skipped.
func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	itemSize := int64(len(key) + len(value))
	if itemSize > c.maxMemory {
		c.logger.Warn("item too large for cache",
			zap.String("key", key),
			zap.Int64("size", itemSize),
		)
		return
	}

	if existing, exists := c.items[key]; exists {
		c.removeItem(existing)
	}

	for (c.currentSize+itemSize > c.maxMemory || len(c.items) >= c.maxItems) && c.lruList.Len() > 0 {
		oldest := c.lruList.Back()
		if oldest != nil {
			c.removeItem(oldest.Value.(*cacheItem))
			c.evictions++
		}
	}

	item := &cacheItem{
		key:    key,
		value:  make([]byte, len(value)),
		size:   itemSize,
		expiry: time.Now().Add(ttl),
	}
	copy(item.value, value)

	item.lruElement = c.lruList.PushFront(item)
	c.items[key] = item
	c.currentSize += itemSize
}

// InvalidatePrefix drops every key with the given prefix. The gateway uses
// this to drop a domain's cached search results after a write.
func (c *MemoryCache) InvalidatePrefix(ctx context.Context, prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var toDelete []*cacheItem
	for key, item := range c.items {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			toDelete = append(toDelete, item)
		}
	}
	for _, item := range toDelete {
		c.removeItem(item)
	}
	return len(toDelete)
}

// Stats returns hit/miss/eviction counters.
func (c *MemoryCache) Stats() (hits, misses, evictions int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, c.evictions
}

// removeItem removes an item. Callers must hold the lock.
func (c *MemoryCache) removeItem(item *cacheItem) {
	if item.lruElement != nil {
		c.lruList.Remove(item.lruElement)
	}
	delete(c.items, item.key)
	c.currentSize -= item.size
}

package chunkset

import (
	"context"
	"sync"
)

// LRUCache is a byte-budgeted LRU cache for storage values.
type LRUCache struct {
	capacity int64 // bytes; <=0 disables the cache
	used     int64
	items    map[string][]byte
	order    []string
	mu       sync.Mutex
}

// NewLRUCache creates a new LRU cache with a byte capacity.
func NewLRUCache(capacity int64) *LRUCache {
	return &LRUCache{
		capacity: capacity,
		items:    make(map[string][]byte),
	}
}

// Get retrieves an item from the cache.
func (c *LRUCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.moveToEnd(key)
	return data, true
}

// Put adds an item to the cache, evicting oldest entries over budget.
func (c *LRUCache) Put(key string, data []byte) {
	if c.capacity <= 0 || int64(len(data)) > c.capacity {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.items[key]; ok {
		c.used -= int64(len(old))
		c.items[key] = data
		c.used += int64(len(data))
		c.moveToEnd(key)
		return
	}

	for c.used+int64(len(data)) > c.capacity && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		c.used -= int64(len(c.items[oldest]))
		delete(c.items, oldest)
	}

	c.items[key] = data
	c.used += int64(len(data))
	c.order = append(c.order, key)
}

// Delete removes an item from the cache.
func (c *LRUCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if data, ok := c.items[key]; ok {
		c.used -= int64(len(data))
		delete(c.items, key)
	}
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of cached entries.
func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *LRUCache) moveToEnd(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			c.order = append(c.order, key)
			break
		}
	}
}

// CachedBackend wraps a StorageBackend with an LRU read cache. Writes go
// through to the underlying backend and refresh the cache.
type CachedBackend struct {
	backend StorageBackend
	cache   *LRUCache
}

// NewCachedBackend wraps backend with a read cache of the given byte size.
func NewCachedBackend(backend StorageBackend, cacheBytes int64) *CachedBackend {
	return &CachedBackend{
		backend: backend,
		cache:   NewLRUCache(cacheBytes),
	}
}

func (c *CachedBackend) Read(ctx context.Context, key string) ([]byte, error) {
	if data, ok := c.cache.Get(key); ok {
		return data, nil
	}
	data, err := c.backend.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	c.cache.Put(key, data)
	return data, nil
}

func (c *CachedBackend) Write(ctx context.Context, key string, data []byte) error {
	if err := c.backend.Write(ctx, key, data); err != nil {
		return err
	}
	c.cache.Put(key, data)
	return nil
}

func (c *CachedBackend) Delete(ctx context.Context, key string) error {
	c.cache.Delete(key)
	return c.backend.Delete(ctx, key)
}

func (c *CachedBackend) DeletePrefix(ctx context.Context, prefix string) error {
	keys, err := c.backend.List(ctx, prefix)
	if err == nil {
		for _, k := range keys {
			c.cache.Delete(k)
		}
	}
	return c.backend.DeletePrefix(ctx, prefix)
}

func (c *CachedBackend) List(ctx context.Context, prefix string) ([]string, error) {
	return c.backend.List(ctx, prefix)
}

func (c *CachedBackend) Exists(ctx context.Context, key string) (bool, error) {
	if _, ok := c.cache.Get(key); ok {
		return true, nil
	}
	return c.backend.Exists(ctx, key)
}

func (c *CachedBackend) Close() error {
	return c.backend.Close()
}

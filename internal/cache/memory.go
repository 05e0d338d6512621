// internal/cache/memory.go - In-memory LRU cache level
package cache

import (
	"sync"

	"github.com/golang/groupcache/lru"

	"github.com/valpere/tilerender/internal/graphics"
	"github.com/valpere/tilerender/internal/metrics"
	"github.com/valpere/tilerender/internal/tile"
)

const levelMemory = "memory"

// InMemoryTileCache is a bounded LRU cache. Evicted bitmaps are released.
type InMemoryTileCache struct {
	mu       sync.Mutex
	lru      *lru.Cache
	keys     map[tile.Job]struct{}
	capacity int
	metrics  *metrics.Metrics
}

// NewInMemoryTileCache creates a cache holding at most capacity bitmaps
func NewInMemoryTileCache(capacity int) (*InMemoryTileCache, error) {
	if err := checkCapacity(capacity); err != nil {
		return nil, err
	}

	c := &InMemoryTileCache{
		keys:     make(map[tile.Job]struct{}),
		capacity: capacity,
		metrics:  metrics.Get(),
	}
	c.lru = lru.New(capacity)
	c.lru.OnEvicted = c.onEvicted
	return c, nil
}

// onEvicted runs with c.mu held, from inside lru calls
func (c *InMemoryTileCache) onEvicted(key lru.Key, value interface{}) {
	delete(c.keys, key.(tile.Job))
	value.(graphics.Bitmap).Release()
	c.metrics.CacheEvictions.WithLabelValues(levelMemory).Inc()
}

// ContainsKey reports presence without touching recency
func (c *InMemoryTileCache) ContainsKey(job tile.Job) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.keys[job]
	return ok
}

// Get returns the cached bitmap with an added reference, or nil
func (c *InMemoryTileCache) Get(job tile.Job) graphics.Bitmap {
	c.mu.Lock()
	defer c.mu.Unlock()

	value, ok := c.lru.Get(job)
	if !ok {
		c.metrics.CacheMisses.WithLabelValues(levelMemory).Inc()
		return nil
	}
	c.metrics.CacheHits.WithLabelValues(levelMemory).Inc()
	bitmap := value.(graphics.Bitmap)
	bitmap.Retain()
	return bitmap
}

// Put stores the bitmap as most recently used, replacing (and releasing) any
// different bitmap held under the same job.
func (c *InMemoryTileCache) Put(job tile.Job, bitmap graphics.Bitmap) error {
	if err := checkPut(job, bitmap); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capacity == 0 {
		return nil
	}

	if existing, ok := c.lru.Get(job); ok {
		if existing.(graphics.Bitmap) == bitmap {
			return nil
		}
		existing.(graphics.Bitmap).Release()
	}

	bitmap.Retain()
	c.keys[job] = struct{}{}
	c.lru.Add(job, bitmap)
	return nil
}

// Capacity returns the maximum number of entries
func (c *InMemoryTileCache) Capacity() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capacity
}

// SetCapacity resizes the cache, evicting least recently used entries first
func (c *InMemoryTileCache) SetCapacity(capacity int) error {
	if err := checkCapacity(capacity); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.capacity = capacity
	if capacity == 0 {
		c.lru.Clear()
		return nil
	}
	c.lru.MaxEntries = capacity
	for c.lru.Len() > capacity {
		c.lru.RemoveOldest()
	}
	return nil
}

// Len returns the number of cached bitmaps
func (c *InMemoryTileCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Destroy releases every bitmap and empties the cache
func (c *InMemoryTileCache) Destroy() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Clear()
	return nil
}

// internal/cache/twolevel.go - Two-level cache composition
package cache

import (
	"sync"

	"go.uber.org/multierr"

	"github.com/valpere/tilerender/internal/graphics"
	"github.com/valpere/tilerender/internal/metrics"
	"github.com/valpere/tilerender/internal/tile"
)

// TwoLevelTileCache combines a small fast first level with a larger second level.
// Writes go to the second level; second level hits are promoted into the first
// as independent copies.
type TwoLevelTileCache struct {
	mu      sync.Mutex
	first   TileCache
	second  TileCache
	metrics *metrics.Metrics
}

// NewTwoLevelTileCache combines first (fast) and second (large) levels
func NewTwoLevelTileCache(first, second TileCache) *TwoLevelTileCache {
	return &TwoLevelTileCache{
		first:   first,
		second:  second,
		metrics: metrics.Get(),
	}
}

// ContainsKey checks both levels
func (c *TwoLevelTileCache) ContainsKey(job tile.Job) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.first.ContainsKey(job) || c.second.ContainsKey(job)
}

// Get returns a first level hit, or a second level hit after promoting a copy
func (c *TwoLevelTileCache) Get(job tile.Job) graphics.Bitmap {
	c.mu.Lock()
	defer c.mu.Unlock()

	if b := c.first.Get(job); b != nil {
		return b
	}

	b := c.second.Get(job)
	if b == nil {
		return nil
	}

	promoted := b.Copy()
	if err := c.first.Put(job, promoted); err == nil {
		c.metrics.CachePromoted.Inc()
	}
	promoted.Release()
	return b
}

// Put stores the bitmap in the second level only
func (c *TwoLevelTileCache) Put(job tile.Job, bitmap graphics.Bitmap) error {
	if err := checkPut(job, bitmap); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.second.Put(job, bitmap)
}

// Capacity reports the larger of the two level capacities
func (c *TwoLevelTileCache) Capacity() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return max(c.first.Capacity(), c.second.Capacity())
}

// SetCapacity resizes the first level; the second level keeps its configured size
func (c *TwoLevelTileCache) SetCapacity(capacity int) error {
	if err := checkCapacity(capacity); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.first.SetCapacity(capacity)
}

// Destroy destroys both levels and reports every failure
func (c *TwoLevelTileCache) Destroy() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return multierr.Append(c.first.Destroy(), c.second.Destroy())
}

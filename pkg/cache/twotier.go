package cache

import (
	"context"
	"image"

	"imgload/pkg/common"
	"imgload/pkg/metrics"
)

// TwoTier combines the memory LRU with the disk tier. Lookups never promote
// between tiers; callers decide when to Put.
// Immutable
type TwoTier struct {
	mem  Memory[image.Image]
	disk *Disk
	rec  metrics.Recorder
}

func NewTwoTier(mem Memory[image.Image], disk *Disk, rec metrics.Recorder) *TwoTier {
	rec = metrics.OrNop(rec)
	mem.OnEvict(func(string, int64) {
		rec.Evicted(metrics.TierMemory)
	})
	return &TwoTier{mem: mem, disk: disk, rec: rec}
}

func (c *TwoTier) Memory() Memory[image.Image] { return c.mem }
func (c *TwoTier) Disk() *Disk                 { return c.disk }

// GetMemory is cheap and safe to call from any goroutine.
func (c *TwoTier) GetMemory(key common.Key) (image.Image, bool) {
	img, ok := c.mem.Get(key.Hash())
	if ok {
		c.rec.CacheHit(metrics.TierMemory)
	} else {
		c.rec.CacheMiss(metrics.TierMemory)
	}
	return img, ok
}

// GetDisk decodes the disk file for key, if any. It does not touch memory.
func (c *TwoTier) GetDisk(ctx context.Context, key common.Key) (image.Image, bool) {
	img, ok := c.disk.Get(ctx, key)
	if ok {
		c.rec.CacheHit(metrics.TierDisk)
	} else {
		c.rec.CacheMiss(metrics.TierDisk)
	}
	return img, ok
}

// Put stores img in memory (byteSize counts against the memory budget) and
// writes it to disk unless a file for key already exists.
func (c *TwoTier) Put(ctx context.Context, key common.Key, img image.Image, byteSize int64) error {
	c.mem.Put(key.Hash(), img, byteSize)
	c.rec.MemoryUsage(c.mem.Used(), c.mem.Len())
	return c.disk.Put(ctx, key, img)
}

func (c *TwoTier) ClearMemory() {
	c.mem.Clear()
	c.rec.MemoryUsage(0, 0)
}

// Clear empties both tiers.
func (c *TwoTier) Clear(ctx context.Context) error {
	c.ClearMemory()
	return c.disk.Clear(ctx)
}

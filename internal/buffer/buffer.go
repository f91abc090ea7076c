// Package buffer implements the block buffer cache: a bounded pool of
// block-sized buffers, each identified by (device, block), shared between
// all users of the same block and recycled least recently released first.
//
// The cache does not lock itself. Every method must be called with the
// kernel lock held that was passed to [NewCache]; methods that perform
// device I/O or wait for a free buffer release that lock while blocked and
// hold it again when they return.
package buffer

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/desertwitch/minixfs/internal/device"
	"github.com/desertwitch/minixfs/internal/layout"
)

type key struct {
	dev   int
	block uint32
}

// Buffer is the cached copy of one block. Data always refers to the same
// slice of the cache's arena; it may be read or changed only while the
// caller holds both a reference and the kernel lock.
type Buffer struct {
	Data []byte

	io      sync.Mutex
	scratch []byte

	dev   int
	block uint32
	count int
	dirty bool
	valid bool
	elem  *list.Element
}

// Dev returns the device the buffer belongs to.
func (b *Buffer) Dev() int { return b.dev }

// Block returns the block number the buffer caches.
func (b *Buffer) Block() uint32 { return b.block }

// Count returns the current reference count.
func (b *Buffer) Count() int { return b.count }

// Dirty reports whether the buffer holds changes not yet on disk.
func (b *Buffer) Dirty() bool { return b.dirty }

// Valid reports whether Data reflects the block contents.
func (b *Buffer) Valid() bool { return b.valid }

// MarkDirty records that Data was changed.
func (b *Buffer) MarkDirty() { b.dirty = true }

// MarkValid declares Data authoritative without loading it from disk, for
// callers that overwrite the whole block.
func (b *Buffer) MarkValid() { b.valid = true }

// Stats are cumulative counters and current occupancy of a [Cache].
type Stats struct {
	Capacity int
	InUse    int
	Free     int
	Hits     uint64
	Misses   uint64
	Loads    uint64
	Writes   uint64
	Recycles uint64
	Waits    uint64
}

// Cache is the block buffer cache.
type Cache struct {
	lock      sync.Locker
	cond      *sync.Cond
	transport device.Transport

	buffers []Buffer
	carved  int
	index   map[key]*Buffer
	free    *list.List

	stats Stats
}

// NewCache returns a pointer to a new [Cache] of capacity buffers, reading
// and writing blocks through transport. lock is the kernel lock the caller
// holds around every cache call.
func NewCache(lock sync.Locker, transport device.Transport, capacity int) *Cache {
	if capacity <= 0 {
		panic(fmt.Sprintf("buffer: invalid capacity %d", capacity))
	}

	// One arena for data and one for the I/O staging copies.
	data := make([]byte, capacity*layout.BlockSize)
	scratch := make([]byte, capacity*layout.BlockSize)

	c := &Cache{
		lock:      lock,
		cond:      sync.NewCond(lock),
		transport: transport,
		buffers:   make([]Buffer, capacity),
		index:     make(map[key]*Buffer, capacity),
		free:      list.New(),
	}

	for i := range c.buffers {
		lo, hi := i*layout.BlockSize, (i+1)*layout.BlockSize
		c.buffers[i].Data = data[lo:hi:hi]
		c.buffers[i].scratch = scratch[lo:hi:hi]
		c.buffers[i].dev = -1
	}

	c.stats.Capacity = capacity

	return c
}

// Acquire returns the unique buffer for (dev, block) with its reference
// count incremented. The contents are not loaded; see [Cache.Fetch]. If no
// buffer is free the caller waits until one is released.
func (c *Cache) Acquire(dev int, block uint32) *Buffer {
	k := key{dev, block}

	for {
		if b, ok := c.index[k]; ok {
			if b.elem != nil {
				c.free.Remove(b.elem)
				b.elem = nil
			}
			b.count++
			c.stats.Hits++

			return b
		}

		if b := c.take(); b != nil {
			b.dev = dev
			b.block = block
			b.count = 1
			b.valid = false
			c.index[k] = b
			c.stats.Misses++

			return b
		}

		c.stats.Waits++
		slog.Debug("Buffer cache exhausted, waiting for a release", "dev", dev, "block", block)
		c.cond.Wait()
	}
}

// take returns an unused buffer: a never used one while the arena lasts,
// then the least recently released one. It returns nil if every buffer is
// referenced.
func (c *Cache) take() *Buffer {
	if c.carved < len(c.buffers) {
		b := &c.buffers[c.carved]
		c.carved++

		return b
	}

	e := c.free.Back()
	if e == nil {
		return nil
	}

	b := c.free.Remove(e).(*Buffer) //nolint:forcetypeassert
	b.elem = nil

	if b.count != 0 || b.dirty {
		panic(fmt.Sprintf("buffer: recycling busy buffer dev %d block %d (count %d, dirty %t)", b.dev, b.block, b.count, b.dirty))
	}

	if old := (key{b.dev, b.block}); c.index[old] == b {
		delete(c.index, old)
		slog.Debug("Recycling buffer", "dev", b.dev, "block", b.block)
	}

	b.valid = false
	c.stats.Recycles++

	return b
}

// Fetch is [Cache.Acquire] followed by loading the block if the buffer is
// not valid yet. Concurrent fetchers of the same block issue one load.
func (c *Cache) Fetch(dev int, block uint32) (*Buffer, error) {
	b := c.Acquire(dev, block)
	if b.valid {
		return b, nil
	}

	c.lock.Unlock()
	b.io.Lock()
	c.lock.Lock()

	if !b.valid {
		c.lock.Unlock()
		err := c.transfer(b.scratch, dev, block, device.DirRead)
		c.lock.Lock()

		if err != nil {
			b.io.Unlock()
			_ = c.Release(b)

			return nil, fmt.Errorf("(buffer-fetch) %w: dev %d block %d: %w", ErrLoad, dev, block, err)
		}

		if !b.valid {
			copy(b.Data, b.scratch)
			b.valid = true
			b.dirty = false
		}
		c.stats.Loads++
	}
	b.io.Unlock()

	return b, nil
}

// Writeback writes b to its device if it is dirty and clears the flag. The
// caller must hold a reference to b.
func (c *Cache) Writeback(b *Buffer) error {
	if !b.dirty {
		return nil
	}

	// The extra reference keeps b off the free list while unlocked.
	b.count++
	defer func() {
		b.count--
		c.park(b)
	}()

	c.lock.Unlock()
	b.io.Lock()
	c.lock.Lock()
	defer b.io.Unlock()

	if !b.dirty {
		return nil
	}

	copy(b.scratch, b.Data)
	b.dirty = false
	dev, block := b.dev, b.block

	c.lock.Unlock()
	err := c.transfer(b.scratch, dev, block, device.DirWrite)
	c.lock.Lock()

	if err != nil {
		b.dirty = true

		return fmt.Errorf("(buffer-writeback) %w: dev %d block %d: %w", ErrWriteback, dev, block, err)
	}

	b.valid = true
	c.stats.Writes++

	return nil
}

// Release drops a reference to b. A dirty buffer is written back at once;
// a buffer no longer referenced becomes the most recently released one.
// One goroutine waiting in [Cache.Acquire] is woken.
func (c *Cache) Release(b *Buffer) error {
	if b == nil {
		return nil
	}

	if b.count <= 0 {
		panic(fmt.Sprintf("buffer: release of unreferenced buffer dev %d block %d", b.dev, b.block))
	}
	b.count--

	err := c.Writeback(b)
	c.park(b)
	c.cond.Signal()

	return err
}

// park puts an unreferenced clean buffer at the head of the free list. A
// buffer left dirty by a failed write-back is parked by the write-back that
// later cleans it.
func (c *Cache) park(b *Buffer) {
	if b.count == 0 && !b.dirty && b.elem == nil {
		b.elem = c.free.PushFront(b)
		c.cond.Signal()
	}
}

// Sync writes back every dirty buffer of dev.
func (c *Cache) Sync(dev int) error {
	var dirty []*Buffer
	for k, b := range c.index {
		if k.dev == dev && b.dirty {
			dirty = append(dirty, b)
		}
	}

	for _, b := range dirty {
		if b.dev != dev || !b.dirty {
			continue
		}

		if err := c.Writeback(b); err != nil {
			return fmt.Errorf("(buffer-sync) %w", err)
		}
	}

	return nil
}

// Invalidate forgets every unreferenced buffer of dev, so later fetches
// reload from the device. It is used when a device is unmounted.
func (c *Cache) Invalidate(dev int) {
	for k, b := range c.index {
		if k.dev != dev || b.count != 0 || b.dirty {
			continue
		}

		delete(c.index, k)
		b.dev = -1
		b.valid = false

		// Unidentified buffers are the first to be reused.
		if b.elem != nil {
			c.free.MoveToBack(b.elem)
		}
	}
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	s := c.stats
	s.Free = c.free.Len() + len(c.buffers) - c.carved

	for _, b := range c.index {
		if b.count > 0 {
			s.InUse++
		}
	}

	return s
}

func (c *Cache) transfer(data []byte, dev int, block uint32, dir device.Direction) error {
	return c.transport.Request(context.Background(), device.Request{
		Dev:    dev,
		Data:   data,
		Count:  layout.BlockSectors,
		Sector: int64(block) * layout.BlockSectors,
		Dir:    dir,
	})
}

// Package super keeps the table of mounted superblocks. Mounting a device
// reads its superblock and pins the buffers of its inode and zone bitmaps for
// as long as it stays mounted.
//
// Like the buffer cache, the registry expects the kernel lock to be held.
package super

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/desertwitch/minixfs/internal/buffer"
	"github.com/desertwitch/minixfs/internal/layout"
)

// Resident is an in-memory inode as the superblock tracks it.
type Resident interface {
	Number() uint16
	Refs() int
}

// Superblock is one mounted device.
type Superblock struct {
	Dev   int
	Super layout.Super

	Buf  *buffer.Buffer
	Imap []*buffer.Buffer
	Zmap []*buffer.Buffer

	// Inodes are the resident inodes of this device by number.
	Inodes map[uint16]Resident

	// Root is the root directory inode, Mount the inode it is mounted on.
	Root  Resident
	Mount Resident

	ready bool
	used  bool
}

// Registry is the bounded superblock table.
type Registry struct {
	cond  *sync.Cond
	cache *buffer.Cache
	slots []Superblock
	halt  bool

	// DeviceBlocks, if set, returns the capacity of a device in blocks. A
	// superblock declaring more zones than its device holds is refused.
	DeviceBlocks func(dev int) (int64, error)
}

// NewRegistry returns a pointer to a new [Registry] with room for slots
// mounted devices. With halt set, running out of slots panics instead of
// returning [ErrNoFreeSuper].
func NewRegistry(lock sync.Locker, cache *buffer.Cache, slots int, halt bool) *Registry {
	return &Registry{
		cond:  sync.NewCond(lock),
		cache: cache,
		slots: make([]Superblock, slots),
		halt:  halt,
	}
}

// Get returns the mounted superblock of dev, or nil.
func (r *Registry) Get(dev int) *Superblock {
	for {
		sb := r.find(dev)
		if sb == nil || sb.ready {
			return sb
		}

		// Another caller is mounting dev.
		r.cond.Wait()
	}
}

func (r *Registry) find(dev int) *Superblock {
	for i := range r.slots {
		if r.slots[i].used && r.slots[i].Dev == dev {
			return &r.slots[i]
		}
	}

	return nil
}

// Read returns the superblock of dev, mounting it first if necessary.
func (r *Registry) Read(dev int) (*Superblock, error) {
	if sb := r.Get(dev); sb != nil {
		return sb, nil
	}

	var sb *Superblock
	for i := range r.slots {
		if !r.slots[i].used {
			sb = &r.slots[i]

			break
		}
	}

	if sb == nil {
		err := fmt.Errorf("(super-read) %w: %d slots for dev %d", ErrNoFreeSuper, len(r.slots), dev)
		if r.halt {
			panic(err)
		}

		return nil, err
	}

	*sb = Superblock{Dev: dev, used: true}

	if err := r.mount(sb); err != nil {
		_ = r.unpin(sb)
		*sb = Superblock{}
		r.cond.Broadcast()

		return nil, fmt.Errorf("(super-read) dev %d: %w", dev, err)
	}

	sb.ready = true
	r.cond.Broadcast()

	slog.Debug("Mounted superblock", "dev", dev,
		"inodes", sb.Super.Inodes, "zones", sb.Super.Zones,
		"imap", sb.Super.ImapBlocks, "zmap", sb.Super.ZmapBlocks,
		"firstDataZone", sb.Super.FirstDataZone)

	return sb, nil
}

func (r *Registry) mount(sb *Superblock) error {
	buf, err := r.cache.Fetch(sb.Dev, layout.SuperBlock)
	if err != nil {
		return err
	}
	sb.Buf = buf

	desc, err := layout.DecodeSuper(buf.Data)
	if err != nil {
		return err
	}
	sb.Super = desc

	if desc.ImapBlocks == 0 || desc.ImapBlocks > layout.MaxImapBlocks ||
		desc.ZmapBlocks == 0 || desc.ZmapBlocks > layout.MaxZmapBlocks {
		return fmt.Errorf("%w: %d imap and %d zmap blocks", ErrGeometry, desc.ImapBlocks, desc.ZmapBlocks)
	}

	if desc.Inodes == 0 {
		return fmt.Errorf("%w: no inodes", ErrGeometry)
	}

	if uint32(desc.FirstDataZone) < desc.InodeTableStart()+desc.InodeTableBlocks() || desc.FirstDataZone >= desc.Zones {
		return fmt.Errorf("%w: first data zone %d of %d zones", ErrGeometry, desc.FirstDataZone, desc.Zones)
	}

	if bits := int(desc.Inodes) + 1; bits > int(desc.ImapBlocks)*layout.BlockBits {
		return fmt.Errorf("%w: %d inodes in %d imap blocks", ErrGeometry, desc.Inodes, desc.ImapBlocks)
	}

	if bits := int(desc.Zones) - int(desc.FirstDataZone) + 1; bits > int(desc.ZmapBlocks)*layout.BlockBits {
		return fmt.Errorf("%w: %d zones in %d zmap blocks", ErrGeometry, desc.Zones, desc.ZmapBlocks)
	}

	if r.DeviceBlocks != nil {
		blocks, err := r.DeviceBlocks(sb.Dev)
		if err != nil {
			return err
		}
		if int64(desc.Zones) > blocks {
			return fmt.Errorf("%w: %d zones on a device of %d blocks", ErrGeometry, desc.Zones, blocks)
		}
	}

	block := uint32(layout.BitmapStart)

	for range desc.ImapBlocks {
		b, err := r.cache.Fetch(sb.Dev, block)
		if err != nil {
			return err
		}
		sb.Imap = append(sb.Imap, b)
		block++
	}

	for range desc.ZmapBlocks {
		b, err := r.cache.Fetch(sb.Dev, block)
		if err != nil {
			return err
		}
		sb.Zmap = append(sb.Zmap, b)
		block++
	}

	sb.Inodes = make(map[uint16]Resident)

	return nil
}

func (r *Registry) unpin(sb *Superblock) error {
	var firstErr error

	release := func(b *buffer.Buffer) {
		if err := r.cache.Release(b); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	for _, b := range sb.Zmap {
		release(b)
	}
	for _, b := range sb.Imap {
		release(b)
	}
	release(sb.Buf)

	return firstErr
}

// Put unmounts dev: every inode of it must have been put already. Dirty
// blocks are written, pinned buffers released and cached blocks of the
// device forgotten.
func (r *Registry) Put(dev int) error {
	sb := r.Get(dev)
	if sb == nil {
		return fmt.Errorf("(super-put) %w: %d", ErrNotMounted, dev)
	}

	if n := len(sb.Inodes); n > 0 {
		return fmt.Errorf("(super-put) %w: %d resident inodes on dev %d", ErrBusy, n, dev)
	}

	if err := r.cache.Sync(dev); err != nil {
		return fmt.Errorf("(super-put) %w", err)
	}

	err := r.unpin(sb)
	*sb = Superblock{}
	r.cache.Invalidate(dev)

	if err != nil {
		return fmt.Errorf("(super-put) %w", err)
	}

	slog.Debug("Unmounted superblock", "dev", dev)

	return nil
}

// Mounted returns the devices with a mounted superblock.
func (r *Registry) Mounted() []int {
	var devs []int
	for i := range r.slots {
		if r.slots[i].used && r.slots[i].ready {
			devs = append(devs, r.slots[i].Dev)
		}
	}

	return devs
}

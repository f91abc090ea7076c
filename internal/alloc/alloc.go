// Package alloc hands out and takes back data zones and inode numbers using
// the bitmaps pinned by a mounted superblock. Every change to a bitmap is
// written through to the device before the call returns.
package alloc

import (
	"fmt"
	"log/slog"

	"github.com/desertwitch/minixfs/internal/bitmap"
	"github.com/desertwitch/minixfs/internal/buffer"
	"github.com/desertwitch/minixfs/internal/layout"
	"github.com/desertwitch/minixfs/internal/super"
)

// Usage reports how much of a device is taken.
type Usage struct {
	Zones      int
	FreeZones  int
	Inodes     int
	FreeInodes int
}

// Allocator allocates zones and inodes. Callers hold the kernel lock.
type Allocator struct {
	cache  *buffer.Cache
	supers *super.Registry
	halt   bool
}

// New returns a pointer to a new [Allocator]. With halt set, running out of
// zones or inodes panics instead of returning [ErrNoSpace].
func New(cache *buffer.Cache, supers *super.Registry, halt bool) *Allocator {
	return &Allocator{
		cache:  cache,
		supers: supers,
		halt:   halt,
	}
}

func (a *Allocator) mounted(dev int) (*super.Superblock, error) {
	sb := a.supers.Get(dev)
	if sb == nil {
		return nil, fmt.Errorf("%w: %d", super.ErrNotMounted, dev)
	}

	return sb, nil
}

func (a *Allocator) exhausted(err error) error {
	if a.halt {
		panic(err)
	}

	return err
}

func zoneMap(sb *super.Superblock, i int) bitmap.Bitmap {
	return bitmap.New(sb.Zmap[i].Data, i*layout.BlockBits+int(sb.Super.FirstDataZone)-1)
}

func inodeMap(sb *super.Superblock, i int) bitmap.Bitmap {
	return bitmap.New(sb.Imap[i].Data, i*layout.BlockBits)
}

// AllocZone takes the first free data zone of dev. The zone's block is
// zeroed on disk before it is returned.
func (a *Allocator) AllocZone(dev int) (uint16, error) {
	sb, err := a.mounted(dev)
	if err != nil {
		return 0, fmt.Errorf("(alloc-zone) %w", err)
	}

	for i, buf := range sb.Zmap {
		zone := zoneMap(sb, i).Scan(1)
		if zone < 0 {
			continue
		}

		if zone < int(sb.Super.FirstDataZone) || zone >= int(sb.Super.Zones) {
			panic(fmt.Sprintf("alloc: zone map of dev %d yielded zone %d outside [%d, %d)", dev, zone, sb.Super.FirstDataZone, sb.Super.Zones))
		}

		buf.MarkDirty()
		if err := a.cache.Writeback(buf); err != nil {
			return 0, fmt.Errorf("(alloc-zone) %w", err)
		}

		b := a.cache.Acquire(dev, uint32(zone))
		clear(b.Data)
		b.MarkValid()
		b.MarkDirty()
		if err := a.cache.Release(b); err != nil {
			return 0, fmt.Errorf("(alloc-zone) %w", err)
		}

		return uint16(zone), nil
	}

	slog.Warn("Zone map exhausted", "dev", dev, "zones", sb.Super.Zones)

	return 0, a.exhausted(fmt.Errorf("(alloc-zone) %w: dev %d has no free zone", ErrNoSpace, dev))
}

// FreeZone returns zone to the free pool of dev. Freeing a zone that is not
// allocated is an invariant violation.
func (a *Allocator) FreeZone(dev int, zone uint16) error {
	sb, err := a.mounted(dev)
	if err != nil {
		return fmt.Errorf("(alloc-freezone) %w", err)
	}

	if zone < sb.Super.FirstDataZone || zone >= sb.Super.Zones {
		panic(fmt.Sprintf("alloc: freeing zone %d outside [%d, %d) on dev %d", zone, sb.Super.FirstDataZone, sb.Super.Zones, dev))
	}

	i := (int(zone) - int(sb.Super.FirstDataZone) + 1) / layout.BlockBits
	m := zoneMap(sb, i)

	if !m.Test(int(zone)) {
		panic(fmt.Sprintf("alloc: freeing free zone %d on dev %d", zone, dev))
	}
	m.Set(int(zone), false)

	sb.Zmap[i].MarkDirty()
	if err := a.cache.Writeback(sb.Zmap[i]); err != nil {
		return fmt.Errorf("(alloc-freezone) %w", err)
	}

	return nil
}

// AllocInode takes the lowest free inode number of dev.
func (a *Allocator) AllocInode(dev int) (uint16, error) {
	sb, err := a.mounted(dev)
	if err != nil {
		return 0, fmt.Errorf("(alloc-inode) %w", err)
	}

	for i, buf := range sb.Imap {
		nr := inodeMap(sb, i).Scan(1)
		if nr < 0 {
			continue
		}

		if nr < 1 || nr > int(sb.Super.Inodes) {
			panic(fmt.Sprintf("alloc: inode map of dev %d yielded inode %d outside [1, %d]", dev, nr, sb.Super.Inodes))
		}

		buf.MarkDirty()
		if err := a.cache.Writeback(buf); err != nil {
			return 0, fmt.Errorf("(alloc-inode) %w", err)
		}

		return uint16(nr), nil
	}

	slog.Warn("Inode map exhausted", "dev", dev, "inodes", sb.Super.Inodes)

	return 0, a.exhausted(fmt.Errorf("(alloc-inode) %w: dev %d has no free inode", ErrNoSpace, dev))
}

// FreeInode returns inode number nr to the free pool of dev.
func (a *Allocator) FreeInode(dev int, nr uint16) error {
	sb, err := a.mounted(dev)
	if err != nil {
		return fmt.Errorf("(alloc-freeinode) %w", err)
	}

	if nr < 1 || nr > sb.Super.Inodes {
		panic(fmt.Sprintf("alloc: freeing inode %d outside [1, %d] on dev %d", nr, sb.Super.Inodes, dev))
	}

	i := int(nr) / layout.BlockBits
	m := inodeMap(sb, i)

	if !m.Test(int(nr)) {
		panic(fmt.Sprintf("alloc: freeing free inode %d on dev %d", nr, dev))
	}
	m.Set(int(nr), false)

	sb.Imap[i].MarkDirty()
	if err := a.cache.Writeback(sb.Imap[i]); err != nil {
		return fmt.Errorf("(alloc-freeinode) %w", err)
	}

	return nil
}

// Count tallies used and free data zones and inodes of dev.
func (a *Allocator) Count(dev int) (Usage, error) {
	sb, err := a.mounted(dev)
	if err != nil {
		return Usage{}, fmt.Errorf("(alloc-count) %w", err)
	}

	u := Usage{
		Zones:  int(sb.Super.Zones) - int(sb.Super.FirstDataZone),
		Inodes: int(sb.Super.Inodes),
	}

	for zone := int(sb.Super.FirstDataZone); zone < int(sb.Super.Zones); zone++ {
		i := (zone - int(sb.Super.FirstDataZone) + 1) / layout.BlockBits
		if !zoneMap(sb, i).Test(zone) {
			u.FreeZones++
		}
	}

	for nr := 1; nr <= int(sb.Super.Inodes); nr++ {
		if !inodeMap(sb, nr/layout.BlockBits).Test(nr) {
			u.FreeInodes++
		}
	}

	return u, nil
}

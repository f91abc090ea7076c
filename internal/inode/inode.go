// Package inode implements the table of resident inodes and the operations
// on file contents: block mapping through the zone array, reads, writes and
// truncation.
//
// An [Inode] is resident at most once per (device, number) while referenced.
// Its descriptor is a view into the cached inode-table block, which stays
// referenced for as long as the inode is. All methods expect the kernel lock
// to be held.
package inode

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/desertwitch/minixfs/internal/alloc"
	"github.com/desertwitch/minixfs/internal/buffer"
	"github.com/desertwitch/minixfs/internal/layout"
	"github.com/desertwitch/minixfs/internal/super"
)

// Inode is a resident inode.
type Inode struct {
	Dev  int
	Nr   uint16
	Desc layout.Descriptor
	Buf  *buffer.Buffer

	// ATime and CTime are kept in memory only; Minix v1 stores one time.
	ATime time.Time
	CTime time.Time

	count int
	used  bool
}

// Number implements [super.Resident].
func (in *Inode) Number() uint16 { return in.Nr }

// Refs implements [super.Resident].
func (in *Inode) Refs() int { return in.count }

// IsDir reports whether the inode is a directory.
func (in *Inode) IsDir() bool { return layout.IsDir(in.Desc.Mode()) }

// IsRegular reports whether the inode is a regular file.
func (in *Inode) IsRegular() bool { return layout.IsRegular(in.Desc.Mode()) }

// MarkDirty marks the inode-table block holding the descriptor dirty.
func (in *Inode) MarkDirty() { in.Buf.MarkDirty() }

// Table is the bounded pool of resident inodes.
type Table struct {
	cache  *buffer.Cache
	supers *super.Registry
	alloc  *alloc.Allocator
	slots  []Inode
	halt   bool

	// Now is the clock used for timestamps.
	Now func() time.Time
}

// NewTable returns a pointer to a new [Table] with room for slots resident
// inodes. With halt set, running out of slots panics instead of returning
// [ErrNoFreeInode].
func NewTable(cache *buffer.Cache, supers *super.Registry, allocator *alloc.Allocator, slots int, halt bool) *Table {
	return &Table{
		cache:  cache,
		supers: supers,
		alloc:  allocator,
		slots:  make([]Inode, slots),
		halt:   halt,
		Now:    time.Now,
	}
}

func (t *Table) stamp() uint32 {
	return uint32(t.Now().Unix())
}

func resident(sb *super.Superblock, nr uint16) *Inode {
	r, ok := sb.Inodes[nr]
	if !ok {
		return nil
	}

	return r.(*Inode) //nolint:forcetypeassert
}

// Get returns inode nr of dev with its reference count incremented, reading
// the descriptor from disk unless the inode is already resident.
func (t *Table) Get(dev int, nr uint16) (*Inode, error) {
	sb := t.supers.Get(dev)
	if sb == nil {
		return nil, fmt.Errorf("(inode-get) %w: %d", super.ErrNotMounted, dev)
	}

	if nr == 0 || nr > sb.Super.Inodes {
		panic(fmt.Sprintf("inode: number %d outside [1, %d] on dev %d", nr, sb.Super.Inodes, dev))
	}

	if in := resident(sb, nr); in != nil {
		in.count++
		in.ATime = t.Now()

		return in, nil
	}

	buf, err := t.cache.Fetch(dev, sb.Super.InodeBlock(nr))
	if err != nil {
		return nil, fmt.Errorf("(inode-get) %w", err)
	}

	// The fetch may have waited; someone else may have loaded it meanwhile.
	if in := resident(sb, nr); in != nil {
		in.count++
		in.ATime = t.Now()

		if err := t.cache.Release(buf); err != nil {
			return in, fmt.Errorf("(inode-get) %w", err)
		}

		return in, nil
	}

	in := t.slot()
	if in == nil {
		_ = t.cache.Release(buf)

		err := fmt.Errorf("(inode-get) %w: %d slots", ErrNoFreeInode, len(t.slots))
		if t.halt {
			panic(err)
		}

		return nil, err
	}

	desc := layout.DescriptorAt(buf.Data, int(nr-1)%layout.BlockInodes)
	now := t.Now()

	*in = Inode{
		Dev:   dev,
		Nr:    nr,
		Desc:  desc,
		Buf:   buf,
		ATime: now,
		CTime: time.Unix(int64(desc.MTime()), 0),
		count: 1,
		used:  true,
	}
	sb.Inodes[nr] = in

	return in, nil
}

func (t *Table) slot() *Inode {
	for i := range t.slots {
		if !t.slots[i].used {
			return &t.slots[i]
		}
	}

	return nil
}

// Put drops a reference to in. The descriptor block is written back if
// dirty. When the last reference of an inode without links goes, its blocks
// and number are freed; when the last reference goes, the slot is returned.
func (t *Table) Put(in *Inode) error {
	if in == nil {
		return nil
	}

	if in.count <= 0 {
		panic(fmt.Sprintf("inode: put of unreferenced inode %d on dev %d", in.Nr, in.Dev))
	}

	if in.count == 1 && in.Desc.Mode() != 0 && in.Desc.Nlinks() == 0 {
		if err := t.reclaim(in); err != nil {
			return fmt.Errorf("(inode-put) %w", err)
		}
	}

	if err := t.cache.Writeback(in.Buf); err != nil {
		return fmt.Errorf("(inode-put) %w", err)
	}

	in.count--
	if in.count > 0 {
		return nil
	}

	if sb := t.supers.Get(in.Dev); sb != nil {
		delete(sb.Inodes, in.Nr)
	}

	buf := in.Buf
	*in = Inode{}

	if err := t.cache.Release(buf); err != nil {
		return fmt.Errorf("(inode-put) %w", err)
	}

	return nil
}

func (t *Table) reclaim(in *Inode) error {
	if err := t.Truncate(in); err != nil {
		return err
	}

	in.Desc.Clear()
	in.MarkDirty()

	if err := t.cache.Writeback(in.Buf); err != nil {
		return err
	}

	if err := t.alloc.FreeInode(in.Dev, in.Nr); err != nil {
		return err
	}

	slog.Debug("Reclaimed inode", "dev", in.Dev, "inode", in.Nr)

	return nil
}

// Create allocates a fresh inode on dev and returns it referenced, with a
// cleared descriptor carrying mode, owner and a single link.
func (t *Table) Create(dev int, mode uint16, uid uint16, gid uint8) (*Inode, error) {
	nr, err := t.alloc.AllocInode(dev)
	if err != nil {
		return nil, fmt.Errorf("(inode-create) %w", err)
	}

	in, err := t.Get(dev, nr)
	if err != nil {
		_ = t.alloc.FreeInode(dev, nr)

		return nil, fmt.Errorf("(inode-create) %w", err)
	}

	in.Desc.Clear()
	in.Desc.SetMode(mode)
	in.Desc.SetUID(uid)
	in.Desc.SetGID(gid)
	in.Desc.SetNlinks(1)
	in.Desc.SetMTime(t.stamp())
	in.CTime = t.Now()
	in.MarkDirty()

	return in, nil
}

// Resident returns how many slots are in use.
func (t *Table) Resident() int {
	n := 0
	for i := range t.slots {
		if t.slots[i].used {
			n++
		}
	}

	return n
}

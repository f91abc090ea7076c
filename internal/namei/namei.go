// Package namei resolves path names to inodes and implements the directory
// operations built on that: open and create, mkdir, rmdir, link, unlink,
// chdir, chroot and working directory tracking.
//
// Paths use '/' or '\' as separators. Relative paths start at the task's
// working directory, absolute ones at its root. Names are stored in at most
// 14 bytes; longer names are cut, and looked up by their first 14 bytes.
package namei

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/desertwitch/minixfs/internal/buffer"
	"github.com/desertwitch/minixfs/internal/inode"
	"github.com/desertwitch/minixfs/internal/layout"
)

// Access bits for [Resolver.Permission].
const (
	MayExec  uint16 = 0o1
	MayWrite uint16 = 0o2
	MayRead  uint16 = 0o4
)

// SuperUser is the uid that passes every permission check.
const SuperUser = 0

// Task is the per-process context of path resolution.
type Task struct {
	UID   uint16
	GID   uint8
	Umask uint16

	Root *inode.Inode
	Cwd  *inode.Inode
	Pwd  string
}

// Slot is a directory entry together with the buffer holding it. The
// holder must release Buf.
type Slot struct {
	Buf   *buffer.Buffer
	Index int
}

// Entry returns the view of the slot's directory entry.
func (s Slot) Entry() layout.Entry {
	return layout.EntryAt(s.Buf.Data, s.Index)
}

// Resolver walks directories. Callers hold the kernel lock.
type Resolver struct {
	table *inode.Table
	cache *buffer.Cache
}

// New returns a pointer to a new [Resolver].
func New(table *inode.Table, cache *buffer.Cache) *Resolver {
	return &Resolver{
		table: table,
		cache: cache,
	}
}

// NewTask returns a task whose root and working directory are the root
// directory of dev.
func (r *Resolver) NewTask(dev int, uid uint16, gid uint8, umask uint16) (*Task, error) {
	root, err := r.table.Get(dev, layout.RootInode)
	if err != nil {
		return nil, fmt.Errorf("(namei-task) %w", err)
	}

	cwd, err := r.table.Get(dev, layout.RootInode)
	if err != nil {
		r.put(root)

		return nil, fmt.Errorf("(namei-task) %w", err)
	}

	return &Task{
		UID:   uid,
		GID:   gid,
		Umask: umask & layout.PermMask,
		Root:  root,
		Cwd:   cwd,
		Pwd:   "/",
	}, nil
}

// Exit drops the task's root and working directory references.
func (r *Resolver) Exit(task *Task) {
	r.put(task.Cwd)
	r.put(task.Root)
	task.Cwd, task.Root = nil, nil
}

func (r *Resolver) put(in *inode.Inode) {
	if in == nil {
		return
	}

	if err := r.table.Put(in); err != nil {
		slog.Warn("Failed to put inode", "dev", in.Dev, "inode", in.Nr, "err", err)
	}
}

func (r *Resolver) drop(s Slot) {
	if err := r.cache.Release(s.Buf); err != nil {
		slog.Warn("Failed to release directory block", "err", err)
	}
}

// Permission reports whether task may access in with mask, a combination
// of [MayRead], [MayWrite] and [MayExec]. Inodes without links grant
// nothing; the super user is granted everything else.
func (r *Resolver) Permission(task *Task, in *inode.Inode, mask uint16) bool {
	if in.Desc.Nlinks() == 0 {
		return false
	}

	if task.UID == SuperUser {
		return true
	}

	mode := in.Desc.Mode()

	switch {
	case task.UID == in.Desc.UID():
		mode >>= 6
	case task.GID == in.Desc.GID():
		mode >>= 3
	}

	return mode&mask&0o7 == mask
}

func isSeparator(c rune) bool {
	return c == '/' || c == '\\'
}

// truncName cuts name to what a directory entry can hold.
func truncName(name string) string {
	if len(name) > layout.NameLen {
		return name[:layout.NameLen]
	}

	return name
}

// split breaks path into the directories to walk and the final name. The
// name is empty when the path ends in a separator.
func split(path string) ([]string, string) {
	parts := strings.FieldsFunc(path, isSeparator)

	if len(parts) == 0 || isSeparator(rune(path[len(path)-1])) {
		return parts, ""
	}

	return parts[:len(parts)-1], parts[len(parts)-1]
}

// Named resolves every component of path but the last and returns the
// directory reached, referenced, and the last component. The component is
// empty when path names a directory by a trailing separator.
func (r *Resolver) Named(task *Task, path string) (*inode.Inode, string, error) {
	if path == "" {
		return nil, "", fmt.Errorf("(namei-named) %w: empty path", ErrInvalid)
	}

	start := task.Cwd
	if isSeparator(rune(path[0])) {
		start = task.Root
	}

	dir, err := r.table.Get(start.Dev, start.Nr)
	if err != nil {
		return nil, "", fmt.Errorf("(namei-named) %w", err)
	}

	if err := r.searchable(task, dir); err != nil {
		r.put(dir)

		return nil, "", fmt.Errorf("(namei-named) %s: %w", path, err)
	}

	dirs, name := split(path)

	for _, comp := range dirs {
		next, err := r.step(task, dir, comp)
		if err != nil {
			r.put(dir)

			return nil, "", fmt.Errorf("(namei-named) %s: %w", path, err)
		}

		r.put(dir)
		dir = next
	}

	return dir, name, nil
}

// searchable checks that in is a directory task may search.
func (r *Resolver) searchable(task *Task, in *inode.Inode) error {
	if !in.IsDir() {
		return ErrNotDirectory
	}

	if !r.Permission(task, in, MayExec) {
		return ErrPermission
	}

	return nil
}

// step looks comp up in the searchable directory dir and returns the
// directory it names, which must be searchable as well.
func (r *Resolver) step(task *Task, dir *inode.Inode, comp string) (*inode.Inode, error) {
	// The task's root is its top; ".." does not leave it.
	if comp == ".." && dir == task.Root {
		return r.table.Get(dir.Dev, dir.Nr)
	}

	slot, err := r.FindEntry(dir, comp)
	if err != nil {
		return nil, err
	}

	nr := slot.Entry().Inode()
	r.drop(slot)

	next, err := r.table.Get(dir.Dev, nr)
	if err != nil {
		return nil, err
	}

	if err := r.searchable(task, next); err != nil {
		r.put(next)

		return nil, err
	}

	return next, nil
}

// Namei resolves path to its inode, returned referenced.
func (r *Resolver) Namei(task *Task, path string) (*inode.Inode, error) {
	dir, name, err := r.Named(task, path)
	if err != nil {
		return nil, err
	}

	if name == "" {
		return dir, nil
	}

	if !r.Permission(task, dir, MayExec) {
		r.put(dir)

		return nil, fmt.Errorf("(namei-namei) %s: %w", path, ErrPermission)
	}

	if name == ".." && dir == task.Root {
		return dir, nil
	}

	slot, err := r.FindEntry(dir, name)
	if err != nil {
		r.put(dir)

		return nil, fmt.Errorf("(namei-namei) %s: %w", path, err)
	}

	nr := slot.Entry().Inode()
	r.drop(slot)

	in, err := r.table.Get(dir.Dev, nr)
	r.put(dir)

	if err != nil {
		return nil, fmt.Errorf("(namei-namei) %w", err)
	}

	return in, nil
}

// FindEntry scans dir for a live entry called name. The returned slot's
// buffer is referenced.
func (r *Resolver) FindEntry(dir *inode.Inode, name string) (Slot, error) {
	name = truncName(name)
	entries := int(dir.Desc.Size()) / layout.EntrySize

	for blk := 0; blk*layout.BlockEntries < entries; blk++ {
		zone, err := r.table.Bmap(dir, blk, false)
		if err != nil {
			return Slot{}, err
		}

		if zone == 0 {
			continue
		}

		b, err := r.cache.Fetch(dir.Dev, uint32(zone))
		if err != nil {
			return Slot{}, err
		}

		n := min(layout.BlockEntries, entries-blk*layout.BlockEntries)
		for i := range n {
			e := layout.EntryAt(b.Data, i)
			if e.Inode() != 0 && e.Name() == name {
				return Slot{Buf: b, Index: i}, nil
			}
		}

		if err := r.cache.Release(b); err != nil {
			return Slot{}, err
		}
	}

	return Slot{}, ErrNotFound
}

// AddEntry writes name into the first free slot of dir, growing the
// directory by one entry if there is none. The slot's inode number is left
// zero for the caller to set.
func (r *Resolver) AddEntry(dir *inode.Inode, name string) (Slot, error) {
	if name == "" || strings.ContainsFunc(name, isSeparator) {
		return Slot{}, fmt.Errorf("(namei-addentry) %w: name %q", ErrInvalid, name)
	}
	name = truncName(name)

	for blk := 0; ; blk++ {
		zone, err := r.table.Bmap(dir, blk, true)
		if err != nil {
			return Slot{}, fmt.Errorf("(namei-addentry) %w", err)
		}

		b, err := r.cache.Fetch(dir.Dev, uint32(zone))
		if err != nil {
			return Slot{}, fmt.Errorf("(namei-addentry) %w", err)
		}

		for i := range layout.BlockEntries {
			e := layout.EntryAt(b.Data, i)
			pos := uint32((blk*layout.BlockEntries + i) * layout.EntrySize)

			if pos >= dir.Desc.Size() {
				e.SetInode(0)
				dir.Desc.SetSize(pos + layout.EntrySize)
				dir.MarkDirty()
			}

			if e.Inode() != 0 {
				continue
			}

			e.SetName(name)
			b.MarkDirty()
			dir.Desc.SetMTime(uint32(r.table.Now().Unix()))
			dir.MarkDirty()

			return Slot{Buf: b, Index: i}, nil
		}

		if err := r.cache.Release(b); err != nil {
			return Slot{}, fmt.Errorf("(namei-addentry) %w", err)
		}
	}
}

package namei

import (
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/desertwitch/minixfs/internal/inode"
	"github.com/desertwitch/minixfs/internal/layout"
)

const (
	accessMode = os.O_RDONLY | os.O_WRONLY | os.O_RDWR
	modeMask   = layout.ISUID | layout.ISGID | layout.ISVTX | layout.PermMask
)

func accessMask(flags int) uint16 {
	switch flags & accessMode {
	case os.O_WRONLY:
		return MayWrite
	case os.O_RDWR:
		return MayRead | MayWrite
	default:
		return MayRead
	}
}

func isDot(name string) bool {
	return name == "." || name == ".."
}

// Open resolves path and returns its inode referenced, creating a regular
// file with mode (less the task's umask) when flags carry [os.O_CREATE]
// and the entry is missing. [os.O_EXCL] turns an existing entry into
// [ErrExists], [os.O_TRUNC] empties the file and implies write access.
// Directories cannot be opened.
func (r *Resolver) Open(task *Task, path string, flags int, mode uint16) (*inode.Inode, error) {
	dir, name, err := r.Named(task, path)
	if err != nil {
		return nil, err
	}
	defer r.put(dir)

	if name == "" {
		return nil, fmt.Errorf("(namei-open) %s: %w", path, ErrIsDirectory)
	}

	if flags&os.O_TRUNC != 0 && flags&accessMode == os.O_RDONLY {
		flags |= os.O_RDWR
	}

	if !r.Permission(task, dir, MayExec) {
		return nil, fmt.Errorf("(namei-open) %s: %w", path, ErrPermission)
	}

	var in *inode.Inode

	slot, err := r.FindEntry(dir, name)
	switch {
	case err == nil:
		nr := slot.Entry().Inode()
		r.drop(slot)

		if flags&os.O_CREATE != 0 && flags&os.O_EXCL != 0 {
			return nil, fmt.Errorf("(namei-open) %s: %w", path, ErrExists)
		}

		if in, err = r.table.Get(dir.Dev, nr); err != nil {
			return nil, fmt.Errorf("(namei-open) %w", err)
		}

		if in.IsDir() {
			r.put(in)

			return nil, fmt.Errorf("(namei-open) %s: %w", path, ErrIsDirectory)
		}

		if !r.Permission(task, in, accessMask(flags)) {
			r.put(in)

			return nil, fmt.Errorf("(namei-open) %s: %w", path, ErrPermission)
		}

	case flags&os.O_CREATE == 0:
		return nil, fmt.Errorf("(namei-open) %s: %w", path, err)

	default:
		if isDot(name) {
			return nil, fmt.Errorf("(namei-open) %s: %w", path, ErrInvalid)
		}

		if !r.Permission(task, dir, MayWrite) {
			return nil, fmt.Errorf("(namei-open) %s: %w", path, ErrPermission)
		}

		if in, err = r.create(task, dir, name, layout.IFREG|mode&modeMask); err != nil {
			return nil, fmt.Errorf("(namei-open) %s: %w", path, err)
		}
	}

	in.ATime = r.table.Now()

	if flags&os.O_TRUNC != 0 {
		if err := r.table.Truncate(in); err != nil {
			r.put(in)

			return nil, fmt.Errorf("(namei-open) %w", err)
		}
	}

	return in, nil
}

// create binds name in dir to a fresh inode of mode. The inode is made
// first so that the new entry is filled in before anything can suspend.
func (r *Resolver) create(task *Task, dir *inode.Inode, name string, mode uint16) (*inode.Inode, error) {
	in, err := r.table.Create(dir.Dev, mode&^task.Umask, task.UID, task.GID)
	if err != nil {
		return nil, err
	}

	slot, err := r.AddEntry(dir, name)
	if err != nil {
		in.Desc.SetNlinks(0)
		in.MarkDirty()
		r.put(in)

		return nil, err
	}

	slot.Entry().SetInode(in.Nr)
	slot.Buf.MarkDirty()
	r.drop(slot)

	return in, nil
}

// Mkdir creates directory path holding "." and "..", and adds a link to the
// parent for the new "..".
func (r *Resolver) Mkdir(task *Task, path string, mode uint16) error {
	dir, name, err := r.Named(task, path)
	if err != nil {
		return err
	}
	defer r.put(dir)

	if name == "" || isDot(name) {
		return fmt.Errorf("(namei-mkdir) %s: %w", path, ErrExists)
	}

	if !r.Permission(task, dir, MayWrite|MayExec) {
		return fmt.Errorf("(namei-mkdir) %s: %w", path, ErrPermission)
	}

	if slot, err := r.FindEntry(dir, name); err == nil {
		r.drop(slot)

		return fmt.Errorf("(namei-mkdir) %s: %w", path, ErrExists)
	}

	if dir.Desc.Nlinks() == 0xff {
		return fmt.Errorf("(namei-mkdir) %s: %w: too many links", path, ErrInvalid)
	}

	in, err := r.create(task, dir, name, layout.IFDIR|mode&modeMask)
	if err != nil {
		return fmt.Errorf("(namei-mkdir) %s: %w", path, err)
	}
	defer r.put(in)

	in.Desc.SetNlinks(2) //nolint:mnd
	in.MarkDirty()

	zone, err := r.table.Bmap(in, 0, true)
	if err != nil {
		return fmt.Errorf("(namei-mkdir) %w", err)
	}

	b, err := r.cache.Fetch(in.Dev, uint32(zone))
	if err != nil {
		return fmt.Errorf("(namei-mkdir) %w", err)
	}

	dot := layout.EntryAt(b.Data, 0)
	dot.SetInode(in.Nr)
	dot.SetName(".")
	dotdot := layout.EntryAt(b.Data, 1)
	dotdot.SetInode(dir.Nr)
	dotdot.SetName("..")
	b.MarkDirty()

	if err := r.cache.Release(b); err != nil {
		return fmt.Errorf("(namei-mkdir) %w", err)
	}

	in.Desc.SetSize(2 * layout.EntrySize)
	in.MarkDirty()

	dir.Desc.SetNlinks(dir.Desc.Nlinks() + 1)
	dir.CTime = r.table.Now()
	dir.MarkDirty()

	return nil
}

// isEmpty reports whether directory in holds nothing but "." and "..".
func (r *Resolver) isEmpty(in *inode.Inode) (bool, error) {
	entries := int(in.Desc.Size()) / layout.EntrySize
	if entries < 2 || in.Desc.Zone(0) == 0 {
		return false, nil
	}

	live := 0

	for blk := 0; blk*layout.BlockEntries < entries; blk++ {
		zone, err := r.table.Bmap(in, blk, false)
		if err != nil {
			return false, err
		}

		if zone == 0 {
			continue
		}

		b, err := r.cache.Fetch(in.Dev, uint32(zone))
		if err != nil {
			return false, err
		}

		n := min(layout.BlockEntries, entries-blk*layout.BlockEntries)
		for i := range n {
			e := layout.EntryAt(b.Data, i)
			if e.Inode() != 0 && !isDot(e.Name()) {
				live++
			}
		}

		if err := r.cache.Release(b); err != nil {
			return false, err
		}
	}

	return live == 0, nil
}

// sticky reports whether a sticky dir keeps task from removing in.
func sticky(task *Task, dir, in *inode.Inode) bool {
	return dir.Desc.Mode()&layout.ISVTX != 0 &&
		task.UID != SuperUser &&
		task.UID != in.Desc.UID() &&
		task.UID != dir.Desc.UID()
}

// Rmdir removes the empty directory path. A directory still referenced
// elsewhere, for example as some task's working directory, is busy.
func (r *Resolver) Rmdir(task *Task, path string) error {
	dir, name, err := r.Named(task, path)
	if err != nil {
		return err
	}
	defer r.put(dir)

	if name == "" || isDot(name) {
		return fmt.Errorf("(namei-rmdir) %s: %w", path, ErrInvalid)
	}

	if !r.Permission(task, dir, MayWrite|MayExec) {
		return fmt.Errorf("(namei-rmdir) %s: %w", path, ErrPermission)
	}

	slot, err := r.FindEntry(dir, name)
	if err != nil {
		return fmt.Errorf("(namei-rmdir) %s: %w", path, err)
	}
	defer r.drop(slot)

	in, err := r.table.Get(dir.Dev, slot.Entry().Inode())
	if err != nil {
		return fmt.Errorf("(namei-rmdir) %w", err)
	}

	held := true
	defer func() {
		if held {
			r.put(in)
		}
	}()

	if !in.IsDir() {
		return fmt.Errorf("(namei-rmdir) %s: %w", path, ErrNotDirectory)
	}

	if sticky(task, dir, in) {
		return fmt.Errorf("(namei-rmdir) %s: %w", path, ErrPermission)
	}

	if in.Dev != dir.Dev || in.Refs() > 1 {
		return fmt.Errorf("(namei-rmdir) %s: %w: in use", path, ErrBusy)
	}

	empty, err := r.isEmpty(in)
	if err != nil {
		return fmt.Errorf("(namei-rmdir) %w", err)
	}

	if !empty {
		return fmt.Errorf("(namei-rmdir) %s: %w: not empty", path, ErrBusy)
	}

	if n := in.Desc.Nlinks(); n != 2 { //nolint:mnd
		panic(fmt.Sprintf("namei: empty directory inode %d has %d links", in.Nr, n))
	}

	slot.Entry().SetInode(0)
	slot.Buf.MarkDirty()

	in.Desc.SetNlinks(0)
	in.MarkDirty()

	dir.Desc.SetNlinks(dir.Desc.Nlinks() - 1)
	dir.Desc.SetMTime(uint32(r.table.Now().Unix()))
	dir.CTime = r.table.Now()
	dir.MarkDirty()

	// Dropping the last reference frees the inode.
	held = false
	if err := r.table.Put(in); err != nil {
		return fmt.Errorf("(namei-rmdir) %s: %w", path, err)
	}

	return nil
}

// Link adds newPath as another name of the file at oldPath.
func (r *Resolver) Link(task *Task, oldPath, newPath string) error {
	in, err := r.Namei(task, oldPath)
	if err != nil {
		return err
	}
	defer r.put(in)

	if in.IsDir() {
		return fmt.Errorf("(namei-link) %s: %w", oldPath, ErrIsDirectory)
	}

	dir, name, err := r.Named(task, newPath)
	if err != nil {
		return err
	}
	defer r.put(dir)

	if name == "" || isDot(name) {
		return fmt.Errorf("(namei-link) %s: %w", newPath, ErrExists)
	}

	if dir.Dev != in.Dev {
		return fmt.Errorf("(namei-link) %s: %w: cross-device link", newPath, ErrBusy)
	}

	if !r.Permission(task, dir, MayWrite|MayExec) {
		return fmt.Errorf("(namei-link) %s: %w", newPath, ErrPermission)
	}

	if slot, err := r.FindEntry(dir, name); err == nil {
		r.drop(slot)

		return fmt.Errorf("(namei-link) %s: %w", newPath, ErrExists)
	}

	if in.Desc.Nlinks() == 0xff {
		return fmt.Errorf("(namei-link) %s: %w: too many links", oldPath, ErrInvalid)
	}

	slot, err := r.AddEntry(dir, name)
	if err != nil {
		return fmt.Errorf("(namei-link) %w", err)
	}
	slot.Entry().SetInode(in.Nr)
	slot.Buf.MarkDirty()
	r.drop(slot)

	in.Desc.SetNlinks(in.Desc.Nlinks() + 1)
	in.CTime = r.table.Now()
	in.MarkDirty()

	return nil
}

// Unlink removes the name path of a file. The file itself goes away once it
// has no names and nobody holds it open.
func (r *Resolver) Unlink(task *Task, path string) error {
	dir, name, err := r.Named(task, path)
	if err != nil {
		return err
	}
	defer r.put(dir)

	if name == "" || isDot(name) {
		return fmt.Errorf("(namei-unlink) %s: %w", path, ErrInvalid)
	}

	if !r.Permission(task, dir, MayWrite|MayExec) {
		return fmt.Errorf("(namei-unlink) %s: %w", path, ErrPermission)
	}

	slot, err := r.FindEntry(dir, name)
	if err != nil {
		return fmt.Errorf("(namei-unlink) %s: %w", path, err)
	}
	defer r.drop(slot)

	in, err := r.table.Get(dir.Dev, slot.Entry().Inode())
	if err != nil {
		return fmt.Errorf("(namei-unlink) %w", err)
	}

	held := true
	defer func() {
		if held {
			r.put(in)
		}
	}()

	if in.IsDir() {
		return fmt.Errorf("(namei-unlink) %s: %w", path, ErrIsDirectory)
	}

	if sticky(task, dir, in) {
		return fmt.Errorf("(namei-unlink) %s: %w", path, ErrPermission)
	}

	slot.Entry().SetInode(0)
	slot.Buf.MarkDirty()

	if in.Desc.Nlinks() > 0 {
		in.Desc.SetNlinks(in.Desc.Nlinks() - 1)
	}
	in.CTime = r.table.Now()
	in.MarkDirty()

	dir.Desc.SetMTime(uint32(r.table.Now().Unix()))
	dir.MarkDirty()

	// An inode without links or other references is freed here.
	held = false
	if err := r.table.Put(in); err != nil {
		return fmt.Errorf("(namei-unlink) %s: %w", path, err)
	}

	return nil
}

// Chdir makes path the task's working directory.
func (r *Resolver) Chdir(task *Task, path string) error {
	in, err := r.Namei(task, path)
	if err != nil {
		return err
	}

	if !in.IsDir() {
		r.put(in)

		return fmt.Errorf("(namei-chdir) %s: %w", path, ErrNotDirectory)
	}

	if !r.Permission(task, in, MayExec) {
		r.put(in)

		return fmt.Errorf("(namei-chdir) %s: %w", path, ErrPermission)
	}

	task.Pwd = Abspath(task.Pwd, path)
	r.put(task.Cwd)
	task.Cwd = in

	return nil
}

// Chroot makes path the task's root directory.
func (r *Resolver) Chroot(task *Task, path string) error {
	in, err := r.Namei(task, path)
	if err != nil {
		return err
	}

	if !in.IsDir() {
		r.put(in)

		return fmt.Errorf("(namei-chroot) %s: %w", path, ErrNotDirectory)
	}

	r.put(task.Root)
	task.Root = in

	return nil
}

// Getcwd returns the task's working directory text.
func (r *Resolver) Getcwd(task *Task) string {
	return task.Pwd
}

// Abspath applies path to the working directory text pwd and returns the
// canonical result: "." is dropped, ".." removes the previous component
// and never climbs above "/".
func Abspath(pwd, p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	if !strings.HasPrefix(p, "/") {
		p = pwd + "/" + p
	}

	return path.Clean(p)
}

// DirEntry is one live entry of a directory listing.
type DirEntry struct {
	Name  string
	Inode uint16
}

// ReadDir lists the live entries of the directory at path in on-disk order.
func (r *Resolver) ReadDir(task *Task, path string) ([]DirEntry, error) {
	in, err := r.Namei(task, path)
	if err != nil {
		return nil, err
	}
	defer r.put(in)

	if !in.IsDir() {
		return nil, fmt.Errorf("(namei-readdir) %s: %w", path, ErrNotDirectory)
	}

	if !r.Permission(task, in, MayRead) {
		return nil, fmt.Errorf("(namei-readdir) %s: %w", path, ErrPermission)
	}

	entries := int(in.Desc.Size()) / layout.EntrySize
	var out []DirEntry

	for blk := 0; blk*layout.BlockEntries < entries; blk++ {
		zone, err := r.table.Bmap(in, blk, false)
		if err != nil {
			return nil, fmt.Errorf("(namei-readdir) %w", err)
		}

		if zone == 0 {
			continue
		}

		b, err := r.cache.Fetch(in.Dev, uint32(zone))
		if err != nil {
			return nil, fmt.Errorf("(namei-readdir) %w", err)
		}

		n := min(layout.BlockEntries, entries-blk*layout.BlockEntries)
		for i := range n {
			e := layout.EntryAt(b.Data, i)
			if e.Inode() != 0 {
				out = append(out, DirEntry{Name: e.Name(), Inode: e.Inode()})
			}
		}

		if err := r.cache.Release(b); err != nil {
			return nil, fmt.Errorf("(namei-readdir) %w", err)
		}
	}

	return out, nil
}

// Stat is a copy of an inode's descriptor.
type Stat struct {
	Dev    int
	Inode  uint16
	Mode   uint16
	UID    uint16
	GID    uint8
	Nlinks uint8
	Size   uint32
	MTime  time.Time
	Zones  [layout.ZoneCount]uint16
}

// IsDir reports whether the stat describes a directory.
func (s Stat) IsDir() bool { return layout.IsDir(s.Mode) }

// StatInode copies the descriptor of in.
func StatInode(in *inode.Inode) Stat {
	s := Stat{
		Dev:    in.Dev,
		Inode:  in.Nr,
		Mode:   in.Desc.Mode(),
		UID:    in.Desc.UID(),
		GID:    in.Desc.GID(),
		Nlinks: in.Desc.Nlinks(),
		Size:   in.Desc.Size(),
		MTime:  time.Unix(int64(in.Desc.MTime()), 0),
	}

	for i := range s.Zones {
		s.Zones[i] = in.Desc.Zone(i)
	}

	return s
}

// Stat resolves path and returns a copy of its descriptor.
func (r *Resolver) Stat(task *Task, path string) (Stat, error) {
	in, err := r.Namei(task, path)
	if err != nil {
		return Stat{}, err
	}
	defer r.put(in)

	return StatInode(in), nil
}

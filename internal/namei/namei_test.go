package namei

import (
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/desertwitch/minixfs/internal/alloc"
	"github.com/desertwitch/minixfs/internal/buffer"
	"github.com/desertwitch/minixfs/internal/device"
	"github.com/desertwitch/minixfs/internal/inode"
	"github.com/desertwitch/minixfs/internal/layout"
	"github.com/desertwitch/minixfs/internal/mkfs"
	"github.com/desertwitch/minixfs/internal/super"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	dev   int
	alloc *alloc.Allocator
	table *inode.Table
	r     *Resolver
	root  *Task
}

// faultyDisk fails every write while fail is set.
type faultyDisk struct {
	*device.MemDisk
	fail atomic.Bool
}

func (d *faultyDisk) WriteAt(p []byte, off int64) (int, error) {
	if d.fail.Load() {
		return 0, errors.New("media error")
	}

	return d.MemDisk.WriteAt(p, off)
}

// newFixture formats a 200 block image and mounts it. The kernel lock is
// held for the rest of the test.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	return newFixtureOn(t, device.NewMemDisk(200*layout.BlockSize))
}

func newFixtureOn(t *testing.T, disk device.Disk) *fixture {
	t.Helper()

	mu := &sync.Mutex{}

	_, err := mkfs.Format(t.Context(), disk, mkfs.Options{})
	require.NoError(t, err)

	reg := device.NewRegistry()
	f := &fixture{dev: reg.Install("mem0", disk)}

	cache := buffer.NewCache(mu, reg, 32)
	supers := super.NewRegistry(mu, cache, 2, true)
	f.alloc = alloc.New(cache, supers, true)
	f.table = inode.NewTable(cache, supers, f.alloc, 32, true)
	f.table.Now = func() time.Time { return time.Unix(1700000000, 0) }
	f.r = New(f.table, cache)

	mu.Lock()
	t.Cleanup(func() {
		mu.Unlock()
		reg.Close()
	})

	_, err = supers.Read(f.dev)
	require.NoError(t, err)

	f.root = f.task(t, SuperUser, 0)
	f.root.Umask = 0

	return f
}

func (f *fixture) task(t *testing.T, uid uint16, gid uint8) *Task {
	t.Helper()

	task, err := f.r.NewTask(f.dev, uid, gid, 0o022)
	require.NoError(t, err)

	return task
}

func (f *fixture) usage(t *testing.T) alloc.Usage {
	t.Helper()

	u, err := f.alloc.Count(f.dev)
	require.NoError(t, err)

	return u
}

func (f *fixture) touch(t *testing.T, task *Task, path string) {
	t.Helper()

	in, err := f.r.Open(task, path, os.O_CREATE|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	require.NoError(t, f.table.Put(in))
}

func (f *fixture) stat(t *testing.T, path string) Stat {
	t.Helper()

	st, err := f.r.Stat(f.root, path)
	require.NoError(t, err)

	return st
}

func names(entries []DirEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name)
	}

	return out
}

// TestNamei_Success tests resolution of nested paths from the root and the
// working directory.
func TestNamei_Success(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	require.NoError(t, f.r.Mkdir(f.root, "/a", 0o755))
	require.NoError(t, f.r.Mkdir(f.root, "/a/b", 0o755))
	f.touch(t, f.root, "/a/b/c")

	in, err := f.r.Namei(f.root, "/a/b/c")
	require.NoError(t, err)
	assert.True(t, in.IsRegular())
	nr := in.Nr
	require.NoError(t, f.table.Put(in))

	in, err = f.r.Namei(f.root, "a/./b/../b/c")
	require.NoError(t, err)
	assert.Equal(t, nr, in.Nr)
	require.NoError(t, f.table.Put(in))

	in, err = f.r.Namei(f.root, "/")
	require.NoError(t, err)
	assert.EqualValues(t, layout.RootInode, in.Nr)
	require.NoError(t, f.table.Put(in))
}

// TestNamei_Fail_NotFound tests a missing final component.
func TestNamei_Fail_NotFound(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.touch(t, f.root, "/c")
	require.NoError(t, f.r.Unlink(f.root, "/c"))

	_, err := f.r.Namei(f.root, "/c")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = f.r.Namei(f.root, "/missing/c")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = f.r.Namei(f.root, "")
	require.ErrorIs(t, err, ErrInvalid)
}

// TestNamei_Fail_NotDirectory tests walking through a regular file.
func TestNamei_Fail_NotDirectory(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.touch(t, f.root, "/f")

	_, err := f.r.Namei(f.root, "/f/x")
	require.ErrorIs(t, err, ErrNotDirectory)

	_, err = f.r.Namei(f.root, "/f/")
	require.ErrorIs(t, err, ErrNotDirectory)
}

// TestNamei_Fail_Permission tests that every directory walked through must
// be searchable by the task, and that a file cannot stand in for one.
func TestNamei_Fail_Permission(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	user := f.task(t, 1000, 100)

	require.NoError(t, f.r.Mkdir(f.root, "/a", 0o755))
	require.NoError(t, f.r.Mkdir(f.root, "/a/b", 0o755))
	f.touch(t, f.root, "/a/b/c")

	in, err := f.r.Namei(user, "/a/b/c")
	require.NoError(t, err)
	require.NoError(t, f.table.Put(in))

	a, err := f.r.Namei(f.root, "/a")
	require.NoError(t, err)
	a.Desc.SetMode(layout.IFDIR | 0o644)
	a.MarkDirty()
	require.NoError(t, f.table.Put(a))

	_, err = f.r.Namei(user, "/a/b/c")
	require.ErrorIs(t, err, ErrPermission)

	_, err = f.r.Namei(user, "/a/b")
	require.ErrorIs(t, err, ErrPermission)

	in, err = f.r.Namei(f.root, "/a/b/c")
	require.NoError(t, err)
	require.NoError(t, f.table.Put(in))

	f.touch(t, f.root, "/a/f")
	_, err = f.r.Namei(f.root, "/a/f/c")
	require.ErrorIs(t, err, ErrNotDirectory)
}

// TestNamed_Fail_Permission tests that the directory handed back is itself
// searchable by the task.
func TestNamed_Fail_Permission(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	user := f.task(t, 1000, 100)

	require.NoError(t, f.r.Mkdir(f.root, "/a", 0o644))

	_, _, err := f.r.Named(user, "/a/x")
	require.ErrorIs(t, err, ErrPermission)

	dir, name, err := f.r.Named(f.root, "/a/x")
	require.NoError(t, err)
	assert.Equal(t, "x", name)
	require.NoError(t, f.table.Put(dir))

	dir, name, err = f.r.Named(user, "/a")
	require.NoError(t, err)
	assert.Equal(t, "a", name)
	assert.EqualValues(t, layout.RootInode, dir.Nr)
	require.NoError(t, f.table.Put(dir))
}

// TestNamei_Backslash tests that both separators are accepted.
func TestNamei_Backslash(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	require.NoError(t, f.r.Mkdir(f.root, `\a`, 0o755))
	f.touch(t, f.root, `a\b`)

	in, err := f.r.Namei(f.root, "/a/b")
	require.NoError(t, err)
	require.NoError(t, f.table.Put(in))
}

// TestNamei_LongNames tests that names are cut to the entry width on both
// insertion and lookup.
func TestNamei_LongNames(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.touch(t, f.root, "/abcdefghijklmnopq")

	in, err := f.r.Namei(f.root, "/abcdefghijklmn")
	require.NoError(t, err)
	require.NoError(t, f.table.Put(in))

	in, err = f.r.Namei(f.root, "/abcdefghijklmnXYZ")
	require.NoError(t, err)
	require.NoError(t, f.table.Put(in))

	entries, err := f.r.ReadDir(f.root, "/")
	require.NoError(t, err)
	assert.Equal(t, []string{".", "..", "abcdefghijklmn"}, names(entries))
}

// TestPermission tests owner, group and other mode bits.
func TestPermission(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.touch(t, f.root, "/f")

	in, err := f.r.Namei(f.root, "/f")
	require.NoError(t, err)
	defer f.table.Put(in) //nolint:errcheck

	in.Desc.SetUID(1000)
	in.Desc.SetGID(100)
	in.Desc.SetMode(layout.IFREG | 0o640)

	owner := &Task{UID: 1000, GID: 1}
	group := &Task{UID: 2000, GID: 100}
	other := &Task{UID: 3000, GID: 1}

	assert.True(t, f.r.Permission(owner, in, MayRead|MayWrite))
	assert.False(t, f.r.Permission(owner, in, MayExec))
	assert.True(t, f.r.Permission(group, in, MayRead))
	assert.False(t, f.r.Permission(group, in, MayWrite))
	assert.False(t, f.r.Permission(other, in, MayRead))
	assert.True(t, f.r.Permission(f.root, in, MayRead|MayWrite|MayExec))

	in.Desc.SetNlinks(0)
	assert.False(t, f.r.Permission(f.root, in, MayRead))
	in.Desc.SetNlinks(1)
}

// TestMkdir_Success tests the entries and link counts of a new directory.
func TestMkdir_Success(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	before := f.usage(t)

	require.NoError(t, f.r.Mkdir(f.root, "/a", 0o755))

	st := f.stat(t, "/a")
	assert.True(t, st.IsDir())
	assert.EqualValues(t, 0o755, st.Mode&layout.PermMask)
	assert.EqualValues(t, 2, st.Nlinks)
	assert.EqualValues(t, 2*layout.EntrySize, st.Size)
	assert.EqualValues(t, 3, f.stat(t, "/").Nlinks)

	entries, err := f.r.ReadDir(f.root, "/a")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, DirEntry{Name: ".", Inode: st.Inode}, entries[0])
	assert.Equal(t, DirEntry{Name: "..", Inode: layout.RootInode}, entries[1])

	after := f.usage(t)
	assert.Equal(t, before.FreeZones-1, after.FreeZones)
	assert.Equal(t, before.FreeInodes-1, after.FreeInodes)
}

// TestMkdir_Umask tests that the task's umask is applied and the sticky bit
// is kept.
func TestMkdir_Umask(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.root.Umask = 0o022

	require.NoError(t, f.r.Mkdir(f.root, "/tmp", 0o1777))
	assert.EqualValues(t, layout.IFDIR|layout.ISVTX|0o755, f.stat(t, "/tmp").Mode)
}

// TestMkdir_Fail_Exists tests creating over existing names.
func TestMkdir_Fail_Exists(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.r.Mkdir(f.root, "/a", 0o755))

	require.ErrorIs(t, f.r.Mkdir(f.root, "/a", 0o755), ErrExists)
	require.ErrorIs(t, f.r.Mkdir(f.root, "/a/.", 0o755), ErrExists)
	require.ErrorIs(t, f.r.Mkdir(f.root, "/a/..", 0o755), ErrExists)
	require.ErrorIs(t, f.r.Mkdir(f.root, "/", 0o755), ErrExists)
}

// TestMkdir_Fail_Permission tests an unprivileged task in the root.
func TestMkdir_Fail_Permission(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	user := f.task(t, 1000, 100)

	require.ErrorIs(t, f.r.Mkdir(user, "/a", 0o755), ErrPermission)
}

// TestRmdir_Success tests removal of an emptied directory.
func TestRmdir_Success(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	before := f.usage(t)

	require.NoError(t, f.r.Mkdir(f.root, "/a", 0o755))
	f.touch(t, f.root, "/a/f")

	require.ErrorIs(t, f.r.Rmdir(f.root, "/a"), ErrBusy)

	require.NoError(t, f.r.Unlink(f.root, "/a/f"))
	require.NoError(t, f.r.Rmdir(f.root, "/a"))

	_, err := f.r.Namei(f.root, "/a")
	require.ErrorIs(t, err, ErrNotFound)

	assert.EqualValues(t, 2, f.stat(t, "/").Nlinks)
	assert.Equal(t, before, f.usage(t))
}

// TestRmdir_Fail_Busy tests a directory in use as a working directory.
func TestRmdir_Fail_Busy(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.r.Mkdir(f.root, "/a", 0o755))

	other := f.task(t, SuperUser, 0)
	require.NoError(t, f.r.Chdir(other, "/a"))

	require.ErrorIs(t, f.r.Rmdir(f.root, "/a"), ErrBusy)

	require.NoError(t, f.r.Chdir(other, "/"))
	require.NoError(t, f.r.Rmdir(f.root, "/a"))
}

// TestRmdir_Fail_Invalid tests removals that are refused outright.
func TestRmdir_Fail_Invalid(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.touch(t, f.root, "/f")
	require.NoError(t, f.r.Mkdir(f.root, "/a", 0o755))

	require.ErrorIs(t, f.r.Rmdir(f.root, "/f"), ErrNotDirectory)
	require.ErrorIs(t, f.r.Rmdir(f.root, "/a/."), ErrInvalid)
	require.ErrorIs(t, f.r.Rmdir(f.root, "/a/.."), ErrInvalid)
	require.ErrorIs(t, f.r.Rmdir(f.root, "/missing"), ErrNotFound)
}

// TestLink_Success tests a second name and removal of the first.
func TestLink_Success(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.touch(t, f.root, "/f")

	require.NoError(t, f.r.Link(f.root, "/f", "/g"))

	st := f.stat(t, "/g")
	assert.EqualValues(t, 2, st.Nlinks)
	assert.Equal(t, f.stat(t, "/f").Inode, st.Inode)

	require.NoError(t, f.r.Unlink(f.root, "/f"))
	assert.EqualValues(t, 1, f.stat(t, "/g").Nlinks)
}

// TestLink_Fail tests directories and existing names.
func TestLink_Fail(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.touch(t, f.root, "/f")
	f.touch(t, f.root, "/g")
	require.NoError(t, f.r.Mkdir(f.root, "/a", 0o755))

	require.ErrorIs(t, f.r.Link(f.root, "/a", "/b"), ErrIsDirectory)
	require.ErrorIs(t, f.r.Link(f.root, "/f", "/g"), ErrExists)
	require.ErrorIs(t, f.r.Link(f.root, "/missing", "/h"), ErrNotFound)
}

// TestUnlink_OpenFile tests that an unlinked file lives until its last
// reference goes.
func TestUnlink_OpenFile(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	before := f.usage(t)

	in, err := f.r.Open(f.root, "/f", os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)

	_, err = f.table.Write(in, []byte("still here"), 0)
	require.NoError(t, err)

	require.NoError(t, f.r.Unlink(f.root, "/f"))
	assert.Equal(t, before.FreeInodes-1, f.usage(t).FreeInodes)

	p := make([]byte, 10)
	_, err = f.table.Read(in, p, 0)
	require.NoError(t, err)
	assert.Equal(t, "still here", string(p))

	require.NoError(t, f.table.Put(in))
	assert.Equal(t, before, f.usage(t))
}

// TestUnlink_Fail tests directories and the sticky bit.
func TestUnlink_Fail(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.r.Mkdir(f.root, "/tmp", 0o1777))

	alice := f.task(t, 1000, 100)
	bob := f.task(t, 2000, 100)

	f.touch(t, alice, "/tmp/f")

	require.ErrorIs(t, f.r.Unlink(bob, "/tmp/f"), ErrPermission)
	require.ErrorIs(t, f.r.Unlink(f.root, "/tmp"), ErrIsDirectory)
	require.NoError(t, f.r.Unlink(alice, "/tmp/f"))
}

// TestOpen_Success tests creation, reopening and truncation.
func TestOpen_Success(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	in, err := f.r.Open(f.root, "/f", os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	assert.EqualValues(t, layout.IFREG|0o600, in.Desc.Mode())

	_, err = f.table.Write(in, make([]byte, 3000), 0)
	require.NoError(t, err)
	require.NoError(t, f.table.Put(in))

	in, err = f.r.Open(f.root, "/f", os.O_RDONLY, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 3000, in.Desc.Size())
	require.NoError(t, f.table.Put(in))

	in, err = f.r.Open(f.root, "/f", os.O_TRUNC, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 0, in.Desc.Size())
	assert.EqualValues(t, 0, in.Desc.Zone(0))
	require.NoError(t, f.table.Put(in))
}

// TestOpen_Fail tests the refusals of open.
func TestOpen_Fail(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.touch(t, f.root, "/f")
	require.NoError(t, f.r.Mkdir(f.root, "/a", 0o755))

	_, err := f.r.Open(f.root, "/f", os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	require.ErrorIs(t, err, ErrExists)

	_, err = f.r.Open(f.root, "/missing", os.O_RDONLY, 0)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = f.r.Open(f.root, "/a", os.O_RDONLY, 0)
	require.ErrorIs(t, err, ErrIsDirectory)

	_, err = f.r.Open(f.root, "/a/", os.O_RDONLY, 0)
	require.ErrorIs(t, err, ErrIsDirectory)

	user := f.task(t, 1000, 100)

	_, err = f.r.Open(user, "/f", os.O_WRONLY, 0)
	require.ErrorIs(t, err, ErrPermission)

	_, err = f.r.Open(user, "/new", os.O_CREATE|os.O_WRONLY, 0o644)
	require.ErrorIs(t, err, ErrPermission)
}

// TestChdir_Success tests relative walks and the working directory text.
func TestChdir_Success(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.r.Mkdir(f.root, "/a", 0o755))
	require.NoError(t, f.r.Mkdir(f.root, "/a/b", 0o755))

	require.NoError(t, f.r.Chdir(f.root, "/a"))
	assert.Equal(t, "/a", f.r.Getcwd(f.root))

	require.NoError(t, f.r.Chdir(f.root, "b"))
	assert.Equal(t, "/a/b", f.r.Getcwd(f.root))

	require.NoError(t, f.r.Chdir(f.root, `..\.`))
	assert.Equal(t, "/a", f.r.Getcwd(f.root))

	in, err := f.r.Namei(f.root, "b")
	require.NoError(t, err)
	require.NoError(t, f.table.Put(in))

	require.NoError(t, f.r.Chdir(f.root, "."))
	assert.Equal(t, "/a", f.r.Getcwd(f.root))
}

// TestChdir_Fail tests files and missing directories.
func TestChdir_Fail(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.touch(t, f.root, "/f")

	require.ErrorIs(t, f.r.Chdir(f.root, "/f"), ErrNotDirectory)
	require.ErrorIs(t, f.r.Chdir(f.root, "/missing"), ErrNotFound)
	assert.Equal(t, "/", f.r.Getcwd(f.root))
}

// TestChroot_Jail tests that ".." cannot climb out of a new root.
func TestChroot_Jail(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.r.Mkdir(f.root, "/jail", 0o755))
	require.NoError(t, f.r.Mkdir(f.root, "/jail/inner", 0o755))
	f.touch(t, f.root, "/outside")

	jail := f.stat(t, "/jail").Inode

	task := f.task(t, SuperUser, 0)
	require.NoError(t, f.r.Chroot(task, "/jail"))

	in, err := f.r.Namei(task, "/inner")
	require.NoError(t, err)
	require.NoError(t, f.table.Put(in))

	in, err = f.r.Namei(task, "/..")
	require.NoError(t, err)
	assert.Equal(t, jail, in.Nr)
	require.NoError(t, f.table.Put(in))

	_, err = f.r.Namei(task, "/../outside")
	require.ErrorIs(t, err, ErrNotFound)

	require.ErrorIs(t, f.r.Chroot(task, "/missing"), ErrNotFound)

	f.r.Exit(task)
	assert.Nil(t, task.Root)
}

// TestAbspath tests canonicalisation of working directory text.
func TestAbspath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		pwd, path, want string
	}{
		{"/", "a/b/../c", "/a/c"},
		{"/a", `..\..`, "/"},
		{"/a", "/x/./y", "/x/y"},
		{"/a/b", ".", "/a/b"},
		{"/a/b", "c/", "/a/b/c"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Abspath(tt.pwd, tt.path), "%s + %s", tt.pwd, tt.path)
	}
}

// TestAddEntry_Grow tests that a directory grows into a second block and
// reuses freed slots.
func TestAddEntry_Grow(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.r.Mkdir(f.root, "/d", 0o755))

	for i := range layout.BlockEntries {
		f.touch(t, f.root, "/d/"+string(rune('A'+i%26))+string(rune('a'+i/26)))
	}

	st := f.stat(t, "/d")
	assert.EqualValues(t, (layout.BlockEntries+2)*layout.EntrySize, st.Size)
	assert.NotZero(t, st.Zones[1])

	require.NoError(t, f.r.Unlink(f.root, "/d/Aa"))
	f.touch(t, f.root, "/d/new")
	assert.Equal(t, st.Size, f.stat(t, "/d").Size)

	entries, err := f.r.ReadDir(f.root, "/d")
	require.NoError(t, err)
	assert.Len(t, entries, layout.BlockEntries+2)
	assert.Equal(t, "new", entries[2].Name)
}

// TestRemove_Fail_Writeback tests that rmdir and unlink report a failure to
// free the removed inode.
func TestRemove_Fail_Writeback(t *testing.T) {
	t.Parallel()

	disk := &faultyDisk{MemDisk: device.NewMemDisk(200 * layout.BlockSize)}
	f := newFixtureOn(t, disk)

	require.NoError(t, f.r.Mkdir(f.root, "/a", 0o755))
	f.touch(t, f.root, "/f")

	disk.fail.Store(true)

	err := f.r.Rmdir(f.root, "/a")
	require.ErrorIs(t, err, buffer.ErrWriteback)

	err = f.r.Unlink(f.root, "/f")
	require.ErrorIs(t, err, buffer.ErrWriteback)
}

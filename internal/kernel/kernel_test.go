package kernel

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"

	"github.com/desertwitch/minixfs/internal/alloc"
	"github.com/desertwitch/minixfs/internal/configuration"
	"github.com/desertwitch/minixfs/internal/device"
	"github.com/desertwitch/minixfs/internal/layout"
	"github.com/desertwitch/minixfs/internal/mkfs"
	"github.com/desertwitch/minixfs/internal/namei"
	"github.com/desertwitch/minixfs/internal/super"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	cfg  configuration.Config
	disk *device.MemDisk
	reg  *device.Registry
	dev  int
	k    *Kernel
}

func newFixture(t *testing.T, blocks int, cfg configuration.Config) *fixture {
	t.Helper()

	f := &fixture{
		cfg:  cfg,
		disk: device.NewMemDisk(int64(blocks) * layout.BlockSize),
		reg:  device.NewRegistry(),
	}

	_, err := mkfs.Format(t.Context(), f.disk, mkfs.Options{})
	require.NoError(t, err)

	f.dev = f.reg.Install("mem0", f.disk)
	t.Cleanup(func() { f.reg.Close() })

	f.k = New(cfg, f.reg)
	require.NoError(t, f.k.MountRoot(f.dev))

	return f
}

func pattern(n int, seed byte) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = seed + byte(i%251)
	}

	return p
}

func (f *fixture) writeFile(t *testing.T, task *Task, path string, data []byte) {
	t.Helper()

	file, err := f.k.Open(task, path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	require.NoError(t, err)

	n, err := f.k.Write(file, data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.NoError(t, f.k.Close(file))
}

func (f *fixture) readFile(t *testing.T, task *Task, path string) []byte {
	t.Helper()

	file, err := f.k.Open(task, path, os.O_RDONLY, 0)
	require.NoError(t, err)
	defer f.k.Close(file) //nolint:errcheck

	data, err := io.ReadAll(f.k.Reader(file))
	require.NoError(t, err)

	return data
}

// TestKernel_WriteReadBack tests that a 2000 byte file reads back intact
// and occupies exactly two data blocks.
func TestKernel_WriteReadBack(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 1440, configuration.Default())

	task, err := f.k.NewTask(0, 0)
	require.NoError(t, err)
	defer f.k.ExitTask(task)

	before, err := f.k.StatFS()
	require.NoError(t, err)

	data := pattern(2000, 3)
	f.writeFile(t, task, "/f", data)

	after, err := f.k.StatFS()
	require.NoError(t, err)
	assert.Equal(t, before.FreeZones-2, after.FreeZones)
	assert.Equal(t, before.FreeInodes-1, after.FreeInodes)

	assert.Equal(t, data, f.readFile(t, task, "/f"))

	st, err := f.k.Stat(task, "/f")
	require.NoError(t, err)
	assert.EqualValues(t, 2000, st.Size)
	assert.NotZero(t, st.Zones[0])
	assert.NotZero(t, st.Zones[1])
	assert.Zero(t, st.Zones[2])
}

// TestKernel_Persistence tests that data survives an unmount and a fresh
// kernel mounting the same device.
func TestKernel_Persistence(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 1440, configuration.Default())

	task, err := f.k.NewTask(0, 0)
	require.NoError(t, err)

	require.NoError(t, f.k.Mkdir(task, "/docs", 0o755))
	data := pattern(9000, 1)
	f.writeFile(t, task, "/docs/big", data)

	require.ErrorIs(t, f.k.Unmount(), super.ErrBusy)

	f.k.ExitTask(task)
	require.NoError(t, f.k.Sync())
	require.NoError(t, f.k.Unmount())
	require.ErrorIs(t, f.k.Unmount(), ErrNoRoot)

	k := New(f.cfg, f.reg)
	require.NoError(t, k.MountRoot(f.dev))
	f.k = k

	task, err = k.NewTask(0, 0)
	require.NoError(t, err)
	defer k.ExitTask(task)

	assert.Equal(t, data, f.readFile(t, task, "/docs/big"))

	entries, err := k.ReadDir(task, "/docs")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "big", entries[2].Name)
}

// TestKernel_Concurrent tests tasks working in parallel on a small cache.
func TestKernel_Concurrent(t *testing.T) {
	t.Parallel()

	cfg := configuration.Default()
	cfg.Buffers = 32

	f := newFixture(t, 1440, cfg)

	before, err := f.k.StatFS()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()

			task, err := f.k.NewTask(0, 0)
			if !assert.NoError(t, err) {
				return
			}
			defer f.k.ExitTask(task)

			dir := fmt.Sprintf("/g%d", g)
			assert.NoError(t, f.k.Mkdir(task, dir, 0o755))
			assert.NoError(t, f.k.Chdir(task, dir))

			for i := range 5 {
				name := fmt.Sprintf("f%d", i)
				data := pattern(3000+i*1024, byte(g))

				file, err := f.k.Open(task, name, os.O_CREATE|os.O_RDWR, 0o644)
				if !assert.NoError(t, err) {
					return
				}

				_, err = f.k.Write(file, data)
				assert.NoError(t, err)

				_, err = f.k.Seek(file, 0, io.SeekStart)
				assert.NoError(t, err)

				got, err := io.ReadAll(f.k.Reader(file))
				assert.NoError(t, err)
				assert.True(t, bytes.Equal(data, got), "%s/%s", dir, name)
				assert.NoError(t, f.k.Close(file))
			}
		}()
	}
	wg.Wait()

	after, err := f.k.StatFS()
	require.NoError(t, err)
	assert.Equal(t, before.FreeInodes-4*6, after.FreeInodes)
	assert.Equal(t, 1, after.Resident)
	assert.Positive(t, after.Cache.Recycles)
}

// TestKernel_FileAccess tests access modes, append and seek.
func TestKernel_FileAccess(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 1440, configuration.Default())

	task, err := f.k.NewTask(0, 0)
	require.NoError(t, err)
	defer f.k.ExitTask(task)

	f.writeFile(t, task, "/log", []byte("one "))

	file, err := f.k.Open(task, "/log", os.O_WRONLY|os.O_APPEND, 0)
	require.NoError(t, err)

	_, err = f.k.Read(file, make([]byte, 4))
	require.ErrorIs(t, err, ErrBadFile)

	_, err = f.k.Write(file, []byte("two"))
	require.NoError(t, err)

	_, err = f.k.Seek(file, -1, io.SeekStart)
	require.ErrorIs(t, err, namei.ErrInvalid)

	st, err := f.k.Fstat(file)
	require.NoError(t, err)
	assert.EqualValues(t, 7, st.Size)
	require.NoError(t, f.k.Close(file))
	require.ErrorIs(t, f.k.Close(file), ErrBadFile)

	assert.Equal(t, "one two", string(f.readFile(t, task, "/log")))

	file, err = f.k.Open(task, "/log", os.O_RDONLY, 0)
	require.NoError(t, err)

	_, err = f.k.Write(file, []byte("x"))
	require.ErrorIs(t, err, ErrBadFile)
	require.ErrorIs(t, f.k.Truncate(file), ErrBadFile)

	pos, err := f.k.Seek(file, -3, io.SeekEnd)
	require.NoError(t, err)
	assert.EqualValues(t, 4, pos)

	p := make([]byte, 8)
	n, err := f.k.Read(file, p)
	require.NoError(t, err)
	assert.Equal(t, "two", string(p[:n]))

	_, err = f.k.Read(file, p)
	require.ErrorIs(t, err, io.EOF)
	require.NoError(t, f.k.Close(file))
}

// TestKernel_MountRoot_Success tests that the root superblock records its
// root directory until the unmount.
func TestKernel_MountRoot_Success(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 200, configuration.Default())

	f.k.mu.Lock()
	sb := f.k.supers.Get(f.dev)
	require.NotNil(t, sb)
	assert.Same(t, f.k.root, sb.Root)
	assert.Same(t, f.k.root, sb.Mount)
	f.k.mu.Unlock()

	require.ErrorIs(t, f.k.MountRoot(f.dev), ErrRootMounted)

	require.NoError(t, f.k.Unmount())

	f.k.mu.Lock()
	defer f.k.mu.Unlock()
	assert.Nil(t, f.k.supers.Get(f.dev))
}

// TestKernel_Fail_NoRoot tests calls before a root is mounted.
func TestKernel_Fail_NoRoot(t *testing.T) {
	t.Parallel()

	k := New(configuration.Default(), device.NewRegistry())

	_, err := k.NewTask(0, 0)
	require.ErrorIs(t, err, ErrNoRoot)

	_, err = k.StatFS()
	require.ErrorIs(t, err, ErrNoRoot)
}

// TestKernel_Fail_BadImage tests mounting a device without a filesystem.
func TestKernel_Fail_BadImage(t *testing.T) {
	t.Parallel()

	reg := device.NewRegistry()
	dev := reg.Install("mem0", device.NewMemDisk(64*layout.BlockSize))

	k := New(configuration.Default(), reg)
	require.ErrorIs(t, k.MountRoot(dev), layout.ErrBadMagic)
}

// TestKernel_Fail_NoSpace tests exhaustion returned as an error.
func TestKernel_Fail_NoSpace(t *testing.T) {
	t.Parallel()

	cfg := configuration.Default()
	cfg.HaltOnExhaustion = false

	f := newFixture(t, mkfs.MinBlocks, cfg)

	task, err := f.k.NewTask(0, 0)
	require.NoError(t, err)
	defer f.k.ExitTask(task)

	file, err := f.k.Open(task, "/fill", os.O_CREATE|os.O_WRONLY, 0o644)
	require.NoError(t, err)

	_, err = f.k.Write(file, make([]byte, mkfs.MinBlocks*layout.BlockSize))
	require.ErrorIs(t, err, alloc.ErrNoSpace)
	require.NoError(t, f.k.Close(file))

	require.NoError(t, f.k.Unlink(task, "/fill"))

	st, err := f.k.StatFS()
	require.NoError(t, err)
	assert.Equal(t, st.Zones-1, st.FreeZones)
}

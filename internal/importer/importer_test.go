package importer

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/desertwitch/minixfs/internal/configuration"
	"github.com/desertwitch/minixfs/internal/device"
	"github.com/desertwitch/minixfs/internal/kernel"
	"github.com/desertwitch/minixfs/internal/layout"
	"github.com/desertwitch/minixfs/internal/mkfs"
	"github.com/desertwitch/minixfs/internal/queue"
	"github.com/desertwitch/minixfs/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"
)

func newKernel(t *testing.T) (*kernel.Kernel, *kernel.Task) {
	t.Helper()

	disk := device.NewMemDisk(4096 * layout.BlockSize)
	_, err := mkfs.Format(t.Context(), disk, mkfs.Options{})
	require.NoError(t, err)

	reg := device.NewRegistry()
	dev := reg.Install("mem0", disk)
	t.Cleanup(func() { reg.Close() })

	k := kernel.New(configuration.Default(), reg)
	require.NoError(t, k.MountRoot(dev))

	task, err := k.NewTask(0, 0)
	require.NoError(t, err)
	t.Cleanup(func() { k.ExitTask(task) })

	return k, task
}

func writeHost(t *testing.T, root string, files map[string][]byte) {
	t.Helper()

	for name, data := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, data, 0o640))
	}
}

func readImage(t *testing.T, k *kernel.Kernel, task *kernel.Task, path string) []byte {
	t.Helper()

	f, err := k.Open(task, path, os.O_RDONLY, 0)
	require.NoError(t, err)
	defer k.Close(f) //nolint:errcheck

	var buf bytes.Buffer
	_, err = buf.ReadFrom(k.Reader(f))
	require.NoError(t, err)

	return buf.Bytes()
}

// TestImport_Success tests a nested tree copied and verified.
func TestImport_Success(t *testing.T) {
	t.Parallel()

	host := t.TempDir()
	files := map[string][]byte{
		"readme":           []byte("hello minix"),
		"src/main.c":       bytes.Repeat([]byte("int x;\n"), 2000),
		"src/lib/empty":    {},
		"docs/manual.text": bytes.Repeat([]byte{0xAA, 0x55}, 5000),
	}
	writeHost(t, host, files)

	k, task := newKernel(t)
	im := New(&schema.OS{}, k, task, 3)
	m := queue.NewManager()

	require.NoError(t, im.Prepare(m, host, "/"))
	assert.Equal(t, 3, m.Directories.Remaining())
	assert.Equal(t, 4, m.Files.Remaining())

	require.NoError(t, im.Run(t.Context(), m))

	for name, data := range files {
		assert.Equal(t, data, readImage(t, k, task, "/"+name), name)
	}

	st, err := k.Stat(task, "/readme")
	require.NoError(t, err)
	assert.EqualValues(t, 0o640, st.Mode&layout.PermMask)

	p := m.Verify.Progress()
	assert.Equal(t, 4, p.SuccessItems)
	assert.True(t, p.HasFinished)
	assert.Positive(t, m.Files.Progress().Bytes)
}

// TestImport_Subdirectory tests importing below an image directory and
// an import over existing directories.
func TestImport_Subdirectory(t *testing.T) {
	t.Parallel()

	host := t.TempDir()
	writeHost(t, host, map[string][]byte{"a/b": []byte("b")})

	k, task := newKernel(t)
	im := New(&schema.OS{}, k, task, 1)

	m := queue.NewManager()
	require.NoError(t, im.Prepare(m, host, "/import"))
	require.NoError(t, im.Run(t.Context(), m))
	assert.Equal(t, []byte("b"), readImage(t, k, task, "/import/a/b"))

	m = queue.NewManager()
	require.NoError(t, im.Prepare(m, host, "/import"))
	require.NoError(t, im.Run(t.Context(), m))
	assert.Equal(t, 2, m.Directories.Progress().SkippedItems)
}

// TestPrepare_LongNames tests truncation and collision filtering.
func TestPrepare_LongNames(t *testing.T) {
	t.Parallel()

	host := t.TempDir()
	writeHost(t, host, map[string][]byte{
		"abcdefghijklmn-one": []byte("1"),
		"abcdefghijklmn-two": []byte("2"),
		"short":              []byte("3"),
	})

	k, task := newKernel(t)
	im := New(&schema.OS{}, k, task, 1)
	m := queue.NewManager()

	require.NoError(t, im.Prepare(m, host, "/"))
	assert.Equal(t, 2, m.Files.Remaining())

	require.NoError(t, im.Run(t.Context(), m))

	entries, err := k.ReadDir(task, "/")
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	assert.ElementsMatch(t, []string{".", "..", "abcdefghijklmn", "short"}, names)
}

// TestPrepare_ASCIINames tests transliteration of names below the target
// directory.
func TestPrepare_ASCIINames(t *testing.T) {
	t.Parallel()

	host := t.TempDir()
	writeHost(t, host, map[string][]byte{
		"Mein Bericht.TXT": []byte("1"),
		"über/x.go":        []byte("2"),
	})

	k, task := newKernel(t)
	require.NoError(t, k.Mkdir(task, "/Target", 0o755))

	im := New(&schema.OS{}, k, task, 1)
	im.ASCIINames = true
	m := queue.NewManager()

	require.NoError(t, im.Prepare(m, host, "/Target"))
	require.NoError(t, im.Run(t.Context(), m))

	assert.Equal(t, []byte("1"), readImage(t, k, task, "/Target/mein-bericht.txt"))
	assert.Equal(t, []byte("2"), readImage(t, k, task, "/Target/uber/x.go"))
}

// TestAsciiName tests single name transliteration.
func TestAsciiName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "readme.md", asciiName("README.md"))
	assert.Equal(t, "cafe-menu", asciiName("Café Menu"))
	assert.Equal(t, ".profile", asciiName(".profile"))
	assert.Equal(t, "archive-tar.gz", asciiName("archive.tar.gz"))
}

// TestPrepare_Fail_NotDirectory tests a file as the import source.
func TestPrepare_Fail_NotDirectory(t *testing.T) {
	t.Parallel()

	host := t.TempDir()
	writeHost(t, host, map[string][]byte{"f": []byte("x")})

	k, task := newKernel(t)
	im := New(&schema.OS{}, k, task, 1)

	err := im.Prepare(queue.NewManager(), filepath.Join(host, "f"), "/")
	require.ErrorIs(t, err, ErrNotDirectory)

	err = im.Prepare(queue.NewManager(), filepath.Join(host, "missing"), "/")
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestVerify_Fail_Mismatch tests that a wrong digest is reported.
func TestVerify_Fail_Mismatch(t *testing.T) {
	t.Parallel()

	host := t.TempDir()
	writeHost(t, host, map[string][]byte{"f": []byte("content")})

	k, task := newKernel(t)
	im := New(&schema.OS{}, k, task, 2)
	m := queue.NewManager()

	require.NoError(t, im.Prepare(m, host, "/"))
	require.NoError(t, m.Files.Process(t.Context(), func(job *queue.Job) queue.Decision {
		return im.copy(t.Context(), m.Files, job)
	}))

	jobs := m.Files.Successful()
	require.Len(t, jobs, 1)
	jobs[0].Digest[0] ^= 0xff

	m.Verify.Enqueue(jobs...)
	err := im.verifyAll(t.Context(), m.Verify)
	require.ErrorIs(t, err, ErrDigestMismatch)
	assert.Len(t, m.Verify.Failed(), 1)
}

// TestRun_Fail_Canceled tests a canceled import.
func TestRun_Fail_Canceled(t *testing.T) {
	t.Parallel()

	host := t.TempDir()
	writeHost(t, host, map[string][]byte{"d/f": []byte("x")})

	k, task := newKernel(t)
	im := New(&schema.OS{}, k, task, 1)
	m := queue.NewManager()
	require.NoError(t, im.Prepare(m, host, "/"))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	require.ErrorIs(t, im.Run(ctx, m), context.Canceled)
}

// TestSum_Success tests the digest helpers against the library.
func TestSum_Success(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte("0123456789"), 1000)

	sum, n, err := Sum(t.Context(), bytes.NewReader(data))
	require.NoError(t, err)
	assert.EqualValues(t, len(data), n)
	assert.Equal(t, blake3.Sum256(data), sum)
	assert.Len(t, Hex(sum), 64)
}

package kernel

import (
	"fmt"
	"io"
	"os"

	"github.com/desertwitch/minixfs/internal/inode"
	"github.com/desertwitch/minixfs/internal/namei"
)

// File is an open file: an inode reference, the access it was opened for
// and the current offset.
type File struct {
	in     *inode.Inode
	flags  int
	offset int64
}

func (f *File) readable() bool {
	return f.in != nil && f.flags&(os.O_WRONLY|os.O_RDWR) != os.O_WRONLY
}

func (f *File) writable() bool {
	return f.in != nil && f.flags&(os.O_WRONLY|os.O_RDWR) != os.O_RDONLY
}

// Open opens path with the [os] open flags, creating it with mode when
// [os.O_CREATE] is given.
func (k *Kernel) Open(task *Task, path string, flags int, mode uint16) (*File, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	in, err := k.resolver.Open(task, path, flags, mode)
	if err != nil {
		return nil, err
	}

	if flags&os.O_TRUNC != 0 && flags&(os.O_WRONLY|os.O_RDWR) == os.O_RDONLY {
		flags |= os.O_RDWR
	}

	return &File{in: in, flags: flags}, nil
}

// Close drops the file's inode reference. An unlinked file is freed here
// when this was its last reference.
func (k *Kernel) Close(f *File) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if f.in == nil {
		return fmt.Errorf("(kernel-close) %w", ErrBadFile)
	}

	in := f.in
	f.in = nil

	if err := k.table.Put(in); err != nil {
		return fmt.Errorf("(kernel-close) %w", err)
	}

	return nil
}

// Read reads from the file's offset and advances it. It returns [io.EOF]
// at the end of the file.
func (k *Kernel) Read(f *File, p []byte) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if !f.readable() {
		return 0, fmt.Errorf("(kernel-read) %w", ErrBadFile)
	}

	n, err := k.table.Read(f.in, p, f.offset)
	f.offset += int64(n)

	return n, err //nolint:wrapcheck
}

// Write writes at the file's offset, or at its end with [os.O_APPEND],
// and advances the offset.
func (k *Kernel) Write(f *File, p []byte) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if !f.writable() {
		return 0, fmt.Errorf("(kernel-write) %w", ErrBadFile)
	}

	if f.flags&os.O_APPEND != 0 {
		f.offset = int64(f.in.Desc.Size())
	}

	n, err := k.table.Write(f.in, p, f.offset)
	f.offset += int64(n)

	if err != nil {
		return n, fmt.Errorf("(kernel-write) %w", err)
	}

	return n, nil
}

// Seek sets the offset for the next Read or Write as [io.Seeker] does.
func (k *Kernel) Seek(f *File, offset int64, whence int) (int64, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if f.in == nil {
		return 0, fmt.Errorf("(kernel-seek) %w", ErrBadFile)
	}

	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += f.offset
	case io.SeekEnd:
		offset += int64(f.in.Desc.Size())
	default:
		return 0, fmt.Errorf("(kernel-seek) %w: whence %d", namei.ErrInvalid, whence)
	}

	if offset < 0 {
		return 0, fmt.Errorf("(kernel-seek) %w: offset %d", namei.ErrInvalid, offset)
	}

	f.offset = offset

	return offset, nil
}

// Truncate empties the file and resets its offset.
func (k *Kernel) Truncate(f *File) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if !f.writable() {
		return fmt.Errorf("(kernel-truncate) %w", ErrBadFile)
	}

	if err := k.table.Truncate(f.in); err != nil {
		return fmt.Errorf("(kernel-truncate) %w", err)
	}
	f.offset = 0

	return nil
}

// Fstat describes the open file.
func (k *Kernel) Fstat(f *File) (Stat, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if f.in == nil {
		return Stat{}, fmt.Errorf("(kernel-fstat) %w", ErrBadFile)
	}

	return namei.StatInode(f.in), nil
}

// Reader returns an [io.Reader] over the open file.
func (k *Kernel) Reader(f *File) io.Reader {
	return fileIO{k: k, f: f}
}

// Writer returns an [io.Writer] over the open file.
func (k *Kernel) Writer(f *File) io.Writer {
	return fileIO{k: k, f: f}
}

type fileIO struct {
	k *Kernel
	f *File
}

func (r fileIO) Read(p []byte) (int, error)  { return r.k.Read(r.f, p) }
func (r fileIO) Write(p []byte) (int, error) { return r.k.Write(r.f, p) }

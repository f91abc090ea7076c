package device

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

type osProvider interface {
	OpenFile(name string, flag int, perm os.FileMode) (*os.File, error)
}

type unixProvider interface {
	Flock(fd int, how int) error
	Pread(fd int, p []byte, offset int64) (int, error)
	Pwrite(fd int, p []byte, offset int64) (int, error)
	Fsync(fd int) error
	Fstat(fd int, stat *unix.Stat_t) error
	Ftruncate(fd int, length int64) error
}

// FileDisk is a [Disk] backed by an image file on the host. The image is
// locked exclusively for as long as the disk is open.
type FileDisk struct {
	file    *os.File
	fd      int
	size    int64
	unixOps unixProvider
}

// OpenFileDisk opens (or with create set, creates and sizes) an image file.
// A size of zero keeps the existing file size.
func OpenFileDisk(osOps osProvider, unixOps unixProvider, path string, size int64, create bool) (*FileDisk, error) {
	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE
	}

	f, err := osOps.OpenFile(path, flags, 0o644) //nolint:mnd
	if err != nil {
		return nil, fmt.Errorf("(device-file) failed to open image: %w", err)
	}

	d := &FileDisk{
		file:    f,
		fd:      int(f.Fd()),
		unixOps: unixOps,
	}

	if err := unixOps.Flock(d.fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("(device-file) %s: %w", path, ErrLocked)
		}

		return nil, fmt.Errorf("(device-file) failed to lock image: %w", err)
	}

	if size > 0 {
		if err := unixOps.Ftruncate(d.fd, size); err != nil {
			d.Close()

			return nil, fmt.Errorf("(device-file) failed to size image: %w", err)
		}
	}

	var st unix.Stat_t
	if err := unixOps.Fstat(d.fd, &st); err != nil {
		d.Close()

		return nil, fmt.Errorf("(device-file) failed to stat image: %w", err)
	}
	d.size = st.Size

	return d, nil
}

// ReadAt implements [Disk].
func (d *FileDisk) ReadAt(p []byte, off int64) (int, error) {
	total := 0
	for total < len(p) {
		n, err := d.unixOps.Pread(d.fd, p[total:], off+int64(total))
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}

			return total, fmt.Errorf("(device-file) pread: %w", err)
		}
		if n == 0 {
			break
		}
		total += n
	}

	return total, nil
}

// WriteAt implements [Disk].
func (d *FileDisk) WriteAt(p []byte, off int64) (int, error) {
	total := 0
	for total < len(p) {
		n, err := d.unixOps.Pwrite(d.fd, p[total:], off+int64(total))
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}

			return total, fmt.Errorf("(device-file) pwrite: %w", err)
		}
		if n == 0 {
			break
		}
		total += n
	}

	return total, nil
}

// Size implements [Disk].
func (d *FileDisk) Size() int64 {
	return d.size
}

// Sync implements [Disk].
func (d *FileDisk) Sync() error {
	if err := d.unixOps.Fsync(d.fd); err != nil {
		return fmt.Errorf("(device-file) fsync: %w", err)
	}

	return nil
}

// Close implements [Disk]. It releases the image lock.
func (d *FileDisk) Close() error {
	_ = d.unixOps.Flock(d.fd, unix.LOCK_UN)

	if err := d.file.Close(); err != nil {
		return fmt.Errorf("(device-file) close: %w", err)
	}

	return nil
}

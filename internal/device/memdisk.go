package device

import (
	"fmt"
	"sync"
)

// MemDisk is a [Disk] held entirely in memory. It also counts transfers,
// which tests use to observe cache behaviour.
type MemDisk struct {
	sync.Mutex
	data   []byte
	reads  int
	writes int
	closed bool
}

// NewMemDisk returns a pointer to a zeroed [MemDisk] of size bytes.
func NewMemDisk(size int64) *MemDisk {
	return &MemDisk{
		data: make([]byte, size),
	}
}

// ReadAt implements [Disk].
func (m *MemDisk) ReadAt(p []byte, off int64) (int, error) {
	m.Lock()
	defer m.Unlock()

	if m.closed {
		return 0, ErrClosed
	}

	if off < 0 || off+int64(len(p)) > int64(len(m.data)) {
		return 0, fmt.Errorf("(device-mem) %w: offset %d", ErrOutOfRange, off)
	}

	m.reads++

	return copy(p, m.data[off:]), nil
}

// WriteAt implements [Disk].
func (m *MemDisk) WriteAt(p []byte, off int64) (int, error) {
	m.Lock()
	defer m.Unlock()

	if m.closed {
		return 0, ErrClosed
	}

	if off < 0 || off+int64(len(p)) > int64(len(m.data)) {
		return 0, fmt.Errorf("(device-mem) %w: offset %d", ErrOutOfRange, off)
	}

	m.writes++

	return copy(m.data[off:], p), nil
}

// Size implements [Disk].
func (m *MemDisk) Size() int64 {
	m.Lock()
	defer m.Unlock()

	return int64(len(m.data))
}

// Sync implements [Disk].
func (*MemDisk) Sync() error {
	return nil
}

// Close implements [Disk].
func (m *MemDisk) Close() error {
	m.Lock()
	defer m.Unlock()

	m.closed = true

	return nil
}

// Counts returns the number of read and write transfers served so far.
func (m *MemDisk) Counts() (int, int) {
	m.Lock()
	defer m.Unlock()

	return m.reads, m.writes
}

// Bytes returns a copy of the disk contents.
func (m *MemDisk) Bytes() []byte {
	m.Lock()
	defer m.Unlock()

	out := make([]byte, len(m.data))
	copy(out, m.data)

	return out
}

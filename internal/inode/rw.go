package inode

import (
	"fmt"
	"io"

	"github.com/desertwitch/minixfs/internal/layout"
)

// Read copies up to len(p) bytes of in starting at off into p. It returns
// [io.EOF] when off is at or past the end of the file. Holes read as zeros.
func (t *Table) Read(in *Inode, p []byte, off int64) (int, error) {
	if off < 0 {
		panic(fmt.Sprintf("inode: negative read offset %d", off))
	}

	size := int64(in.Desc.Size())
	if off >= size {
		return 0, io.EOF
	}

	left := min(int64(len(p)), size-off)
	n := 0

	for left > 0 {
		start := off % layout.BlockSize
		chars := min(layout.BlockSize-start, left)
		dst := p[n : n+int(chars)]

		zone, err := t.Bmap(in, int(off/layout.BlockSize), false)
		if err != nil {
			return n, fmt.Errorf("(inode-read) %w", err)
		}

		if zone == 0 {
			clear(dst)
		} else {
			b, err := t.cache.Fetch(in.Dev, uint32(zone))
			if err != nil {
				return n, fmt.Errorf("(inode-read) %w", err)
			}
			copy(dst, b.Data[start:])

			if err := t.cache.Release(b); err != nil {
				return n, fmt.Errorf("(inode-read) %w", err)
			}
		}

		n += int(chars)
		off += chars
		left -= chars
	}

	in.ATime = t.Now()

	return n, nil
}

// Write copies p into in starting at off, allocating zones as needed and
// growing the file when writing past its end. The descriptor block is
// written back before Write returns.
func (t *Table) Write(in *Inode, p []byte, off int64) (int, error) {
	if off < 0 {
		panic(fmt.Sprintf("inode: negative write offset %d", off))
	}

	if off+int64(len(p)) > layout.MaxFileSize {
		return 0, fmt.Errorf("(inode-write) %w: %d bytes at %d", ErrFileTooLarge, len(p), off)
	}

	n := 0
	var werr error

	for n < len(p) {
		start := off % layout.BlockSize
		chars := min(layout.BlockSize-start, int64(len(p)-n))

		zone, err := t.Bmap(in, int(off/layout.BlockSize), true)
		if err != nil {
			werr = err

			break
		}

		b, err := t.cache.Fetch(in.Dev, uint32(zone))
		if err != nil {
			werr = err

			break
		}

		copy(b.Data[start:start+chars], p[n:])
		b.MarkDirty()

		n += int(chars)
		off += chars

		if off > int64(in.Desc.Size()) {
			in.Desc.SetSize(uint32(off))
			in.MarkDirty()
		}

		if err := t.cache.Release(b); err != nil {
			werr = err

			break
		}
	}

	now := t.Now()
	in.Desc.SetMTime(uint32(now.Unix()))
	in.ATime = now
	in.MarkDirty()

	if err := t.cache.Writeback(in.Buf); err != nil && werr == nil {
		werr = err
	}

	if werr != nil {
		return n, fmt.Errorf("(inode-write) %w", werr)
	}

	return n, nil
}

// Truncate frees every zone of a regular file or directory and sets its
// size to zero. Other inode types are left alone.
func (t *Table) Truncate(in *Inode) error {
	if !in.IsRegular() && !in.IsDir() {
		return nil
	}

	for i := range layout.DirectZones {
		if err := t.freeTree(in.Dev, in.Desc.Zone(i), 0); err != nil {
			return fmt.Errorf("(inode-truncate) %w", err)
		}
		in.Desc.SetZone(i, 0)
	}

	if err := t.freeTree(in.Dev, in.Desc.Zone(layout.Indirect1Zone), 1); err != nil {
		return fmt.Errorf("(inode-truncate) %w", err)
	}
	in.Desc.SetZone(layout.Indirect1Zone, 0)

	if err := t.freeTree(in.Dev, in.Desc.Zone(layout.Indirect2Zone), 2); err != nil { //nolint:mnd
		return fmt.Errorf("(inode-truncate) %w", err)
	}
	in.Desc.SetZone(layout.Indirect2Zone, 0)

	in.Desc.SetSize(0)
	in.Desc.SetMTime(t.stamp())
	in.MarkDirty()

	if err := t.cache.Writeback(in.Buf); err != nil {
		return fmt.Errorf("(inode-truncate) %w", err)
	}

	return nil
}

// freeTree frees zone and, for indirect zones, every zone it points to.
func (t *Table) freeTree(dev int, zone uint16, level int) error {
	if zone == 0 {
		return nil
	}

	if level > 0 {
		b, err := t.cache.Fetch(dev, uint32(zone))
		if err != nil {
			return err
		}

		for i := range layout.BlockIndexes {
			if err := t.freeTree(dev, layout.Pointer(b.Data, i), level-1); err != nil {
				_ = t.cache.Release(b)

				return err
			}
		}

		if err := t.cache.Release(b); err != nil {
			return err
		}
	}

	return t.alloc.FreeZone(dev, zone)
}

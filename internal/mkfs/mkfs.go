// Package mkfs lays out an empty Minix v1 filesystem on a disk.
package mkfs

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/desertwitch/minixfs/internal/bitmap"
	"github.com/desertwitch/minixfs/internal/device"
	"github.com/desertwitch/minixfs/internal/layout"
)

const (
	// MinBlocks is the smallest filesystem Format accepts.
	MinBlocks = 16

	// MaxBlocks is the largest zone count a v1 superblock can hold.
	MaxBlocks = math.MaxUint16

	rootMode = layout.IFDIR | 0o755

	stateValid = 1
)

// Options size the new filesystem. Zero values are derived from the disk:
// Blocks from its size, Inodes as a third of the blocks rounded up to a whole
// inode-table block.
type Options struct {
	Blocks int
	Inodes int
	Now    func() time.Time
}

// Geometry computes the superblock Format would write for opts on a disk of
// diskSize bytes.
func Geometry(opts Options, diskSize int64) (layout.Super, error) {
	blocks := opts.Blocks
	if blocks == 0 {
		blocks = int(min(diskSize/layout.BlockSize, MaxBlocks))
	}

	if blocks < MinBlocks || blocks > MaxBlocks {
		return layout.Super{}, fmt.Errorf("(mkfs-geometry) %w: %d blocks", ErrInvalidSize, blocks)
	}

	if int64(blocks)*layout.BlockSize > diskSize {
		return layout.Super{}, fmt.Errorf("(mkfs-geometry) %w: %d blocks on a %d byte disk", ErrInvalidSize, blocks, diskSize)
	}

	inodes := opts.Inodes
	if inodes == 0 {
		inodes = blocks / 3 //nolint:mnd
	}
	inodes = (inodes + layout.BlockInodes - 1) / layout.BlockInodes * layout.BlockInodes

	if inodes <= 0 || inodes > MaxBlocks {
		return layout.Super{}, fmt.Errorf("(mkfs-geometry) %w: %d inodes", ErrInvalidSize, inodes)
	}

	// Bit 0 of either map is reserved.
	imap := (inodes + 1 + layout.BlockBits - 1) / layout.BlockBits
	tableBlocks := inodes / layout.BlockInodes

	zmap := 1
	first := 0
	for {
		first = layout.BitmapStart + imap + zmap + tableBlocks
		need := (blocks - first + 1 + layout.BlockBits - 1) / layout.BlockBits
		if need <= zmap {
			break
		}
		zmap = need
	}

	if imap > layout.MaxImapBlocks || zmap > layout.MaxZmapBlocks || first+1 >= blocks {
		return layout.Super{}, fmt.Errorf("(mkfs-geometry) %w: %d inodes on %d blocks", ErrInvalidSize, inodes, blocks)
	}

	return layout.Super{
		Inodes:        uint16(inodes),
		Zones:         uint16(blocks),
		ImapBlocks:    uint16(imap),
		ZmapBlocks:    uint16(zmap),
		FirstDataZone: uint16(first),
		MaxSize:       layout.MaxFileSize,
		Magic:         layout.Magic,
		State:         stateValid,
	}, nil
}

// Format writes an empty filesystem to disk: boot block, superblock, both
// bitmaps, a zeroed inode table and a root directory holding "." and "..".
func Format(ctx context.Context, disk device.Disk, opts Options) (layout.Super, error) {
	sb, err := Geometry(opts, disk.Size())
	if err != nil {
		return sb, err
	}

	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	zero := make([]byte, layout.BlockSize)
	block := make([]byte, layout.BlockSize)

	write := func(nr uint32, data []byte) error {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("(mkfs-format) %w", err)
		}

		if _, err := disk.WriteAt(data, int64(nr)*layout.BlockSize); err != nil {
			return fmt.Errorf("(mkfs-format) block %d: %w", nr, err)
		}

		return nil
	}

	if err := write(0, zero); err != nil {
		return sb, err
	}

	sb.Encode(block)
	if err := write(layout.SuperBlock, block); err != nil {
		return sb, err
	}

	nr := uint32(layout.BitmapStart)

	// Inode map: inode 1 is the root, numbers past the table are unusable.
	for i := range int(sb.ImapBlocks) {
		m := bitmap.New(block, i*layout.BlockBits)
		clear(block)
		for bit := i * layout.BlockBits; bit < (i+1)*layout.BlockBits; bit++ {
			if bit <= layout.RootInode || bit > int(sb.Inodes) {
				m.Set(bit, true)
			}
		}
		if err := write(nr, block); err != nil {
			return sb, err
		}
		nr++
	}

	// Zone map: bit b stands for zone FirstDataZone-1+b; the root directory
	// takes the first data zone.
	dataZones := int(sb.Zones) - int(sb.FirstDataZone)
	for i := range int(sb.ZmapBlocks) {
		m := bitmap.New(block, i*layout.BlockBits)
		clear(block)
		for bit := i * layout.BlockBits; bit < (i+1)*layout.BlockBits; bit++ {
			if bit <= 1 || bit > dataZones {
				m.Set(bit, true)
			}
		}
		if err := write(nr, block); err != nil {
			return sb, err
		}
		nr++
	}

	stamp := uint32(now().Unix())

	for i := range sb.InodeTableBlocks() {
		clear(block)
		if i == 0 {
			root := layout.DescriptorAt(block, layout.RootInode-1)
			root.SetMode(rootMode)
			root.SetSize(2 * layout.EntrySize)
			root.SetMTime(stamp)
			root.SetNlinks(2) //nolint:mnd
			root.SetZone(0, sb.FirstDataZone)
		}
		if err := write(sb.InodeTableStart()+i, block); err != nil {
			return sb, err
		}
	}

	clear(block)
	dot := layout.EntryAt(block, 0)
	dot.SetInode(layout.RootInode)
	dot.SetName(".")
	dotdot := layout.EntryAt(block, 1)
	dotdot.SetInode(layout.RootInode)
	dotdot.SetName("..")

	if err := write(uint32(sb.FirstDataZone), block); err != nil {
		return sb, err
	}

	if err := disk.Sync(); err != nil {
		return sb, fmt.Errorf("(mkfs-format) sync: %w", err)
	}

	slog.Debug("Formatted filesystem",
		"blocks", sb.Zones, "inodes", sb.Inodes,
		"imap", sb.ImapBlocks, "zmap", sb.ZmapBlocks,
		"firstDataZone", sb.FirstDataZone)

	return sb, nil
}

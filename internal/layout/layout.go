// Package layout describes the Minix v1 on-disk format: block geometry, the
// superblock record, packed inode descriptors and directory entries.
//
// All multi-byte fields are little-endian. Descriptors and entries are views
// over a slice of a cached block, so changing a field changes the block data
// in place; callers are responsible for marking the owning buffer dirty.
package layout

import (
	"encoding/binary"
	"fmt"
)

const (
	BlockSize    = 1024
	SectorSize   = 512
	BlockSectors = BlockSize / SectorSize
	BlockBits    = BlockSize * 8

	Magic   uint16 = 0x137f
	NameLen        = 14

	SuperBlock  = 1
	BitmapStart = 2

	// MaxImapBlocks and MaxZmapBlocks bound how many bitmap blocks a
	// superblock may pin.
	MaxImapBlocks = 8
	MaxZmapBlocks = 8

	RootInode = 1

	InodeSize    = 32
	EntrySize    = 16
	PointerSize  = 2
	BlockInodes  = BlockSize / InodeSize
	BlockEntries = BlockSize / EntrySize
	BlockIndexes = BlockSize / PointerSize

	DirectZones    = 7
	Indirect1Zone  = DirectZones
	Indirect2Zone  = DirectZones + 1
	ZoneCount      = 9
	Indirect1Range = BlockIndexes
	Indirect2Range = BlockIndexes * BlockIndexes
	TotalBlocks    = DirectZones + Indirect1Range + Indirect2Range

	// MaxFileSize is the largest file the zone array can address.
	MaxFileSize = TotalBlocks * BlockSize
)

// Mode bits as stored in an inode descriptor.
const (
	IFMT  uint16 = 0o170000
	IFREG uint16 = 0o100000
	IFBLK uint16 = 0o060000
	IFDIR uint16 = 0o040000
	IFCHR uint16 = 0o020000
	IFIFO uint16 = 0o010000
	ISUID uint16 = 0o004000
	ISGID uint16 = 0o002000
	ISVTX uint16 = 0o001000

	PermMask uint16 = 0o777
)

// IsDir reports whether mode describes a directory.
func IsDir(mode uint16) bool { return mode&IFMT == IFDIR }

// IsRegular reports whether mode describes a regular file.
func IsRegular(mode uint16) bool { return mode&IFMT == IFREG }

// Super is the decoded superblock record stored at block 1.
type Super struct {
	Inodes        uint16
	Zones         uint16
	ImapBlocks    uint16
	ZmapBlocks    uint16
	FirstDataZone uint16
	LogZoneSize   uint16
	MaxSize       uint32
	Magic         uint16
	State         uint16
}

const superRecordSize = 20

// DecodeSuper parses a superblock record from the start of b.
func DecodeSuper(b []byte) (Super, error) {
	if len(b) < superRecordSize {
		return Super{}, fmt.Errorf("(layout-super) %w: %d bytes", ErrShortBlock, len(b))
	}

	s := Super{
		Inodes:        binary.LittleEndian.Uint16(b[0:2]),
		Zones:         binary.LittleEndian.Uint16(b[2:4]),
		ImapBlocks:    binary.LittleEndian.Uint16(b[4:6]),
		ZmapBlocks:    binary.LittleEndian.Uint16(b[6:8]),
		FirstDataZone: binary.LittleEndian.Uint16(b[8:10]),
		LogZoneSize:   binary.LittleEndian.Uint16(b[10:12]),
		MaxSize:       binary.LittleEndian.Uint32(b[12:16]),
		Magic:         binary.LittleEndian.Uint16(b[16:18]),
		State:         binary.LittleEndian.Uint16(b[18:20]),
	}

	if s.Magic != Magic {
		return s, fmt.Errorf("(layout-super) %w: %#04x", ErrBadMagic, s.Magic)
	}

	return s, nil
}

// Encode writes the superblock record to the start of b.
func (s Super) Encode(b []byte) {
	binary.LittleEndian.PutUint16(b[0:2], s.Inodes)
	binary.LittleEndian.PutUint16(b[2:4], s.Zones)
	binary.LittleEndian.PutUint16(b[4:6], s.ImapBlocks)
	binary.LittleEndian.PutUint16(b[6:8], s.ZmapBlocks)
	binary.LittleEndian.PutUint16(b[8:10], s.FirstDataZone)
	binary.LittleEndian.PutUint16(b[10:12], s.LogZoneSize)
	binary.LittleEndian.PutUint32(b[12:16], s.MaxSize)
	binary.LittleEndian.PutUint16(b[16:18], s.Magic)
	binary.LittleEndian.PutUint16(b[18:20], s.State)
}

// InodeTableStart returns the first block of the inode table.
func (s Super) InodeTableStart() uint32 {
	return BitmapStart + uint32(s.ImapBlocks) + uint32(s.ZmapBlocks)
}

// InodeBlock returns the block holding the descriptor of inode nr.
func (s Super) InodeBlock(nr uint16) uint32 {
	return s.InodeTableStart() + (uint32(nr)-1)/BlockInodes
}

// InodeTableBlocks returns how many blocks the inode table spans.
func (s Super) InodeTableBlocks() uint32 {
	return (uint32(s.Inodes) + BlockInodes - 1) / BlockInodes
}

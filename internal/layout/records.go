package layout

import (
	"bytes"
	"encoding/binary"
)

// Descriptor is a view over one packed 32-byte inode record:
//
//	mode u16 | uid u16 | size u32 | mtime u32 | gid u8 | nlinks u8 | zone[9] u16
type Descriptor []byte

// DescriptorAt returns the view of record idx within an inode-table block.
func DescriptorAt(block []byte, idx int) Descriptor {
	off := idx * InodeSize

	return Descriptor(block[off : off+InodeSize : off+InodeSize])
}

func (d Descriptor) Mode() uint16      { return binary.LittleEndian.Uint16(d[0:2]) }
func (d Descriptor) SetMode(v uint16)  { binary.LittleEndian.PutUint16(d[0:2], v) }
func (d Descriptor) UID() uint16       { return binary.LittleEndian.Uint16(d[2:4]) }
func (d Descriptor) SetUID(v uint16)   { binary.LittleEndian.PutUint16(d[2:4], v) }
func (d Descriptor) Size() uint32      { return binary.LittleEndian.Uint32(d[4:8]) }
func (d Descriptor) SetSize(v uint32)  { binary.LittleEndian.PutUint32(d[4:8], v) }
func (d Descriptor) MTime() uint32     { return binary.LittleEndian.Uint32(d[8:12]) }
func (d Descriptor) SetMTime(v uint32) { binary.LittleEndian.PutUint32(d[8:12], v) }
func (d Descriptor) GID() uint8        { return d[12] }
func (d Descriptor) SetGID(v uint8)    { d[12] = v }
func (d Descriptor) Nlinks() uint8     { return d[13] }
func (d Descriptor) SetNlinks(v uint8) { d[13] = v }

// Zone returns zone pointer i (0..8).
func (d Descriptor) Zone(i int) uint16 {
	off := 14 + i*PointerSize

	return binary.LittleEndian.Uint16(d[off : off+PointerSize])
}

// SetZone stores zone pointer i (0..8).
func (d Descriptor) SetZone(i int, v uint16) {
	off := 14 + i*PointerSize
	binary.LittleEndian.PutUint16(d[off:off+PointerSize], v)
}

// Clear zeroes the whole record.
func (d Descriptor) Clear() {
	clear(d)
}

// Pointer reads entry i of an indirect block.
func Pointer(block []byte, i int) uint16 {
	off := i * PointerSize

	return binary.LittleEndian.Uint16(block[off : off+PointerSize])
}

// SetPointer stores entry i of an indirect block.
func SetPointer(block []byte, i int, v uint16) {
	off := i * PointerSize
	binary.LittleEndian.PutUint16(block[off:off+PointerSize], v)
}

// Entry is a view over one 16-byte directory entry: inode u16 | name [14]byte.
type Entry []byte

// EntryAt returns the view of entry idx within a directory block.
func EntryAt(block []byte, idx int) Entry {
	off := idx * EntrySize

	return Entry(block[off : off+EntrySize : off+EntrySize])
}

func (e Entry) Inode() uint16     { return binary.LittleEndian.Uint16(e[0:2]) }
func (e Entry) SetInode(v uint16) { binary.LittleEndian.PutUint16(e[0:2], v) }

// Name returns the entry name up to its first NUL byte.
func (e Entry) Name() string {
	raw := e[2 : 2+NameLen]
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}

	return string(raw)
}

// SetName stores name, truncated to NameLen bytes and NUL padded.
func (e Entry) SetName(name string) {
	raw := e[2 : 2+NameLen]
	clear(raw)
	copy(raw, name)
}

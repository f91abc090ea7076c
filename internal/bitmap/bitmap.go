// Package bitmap implements the one-bit-per-unit tables the allocator keeps
// in its pinned bitmap blocks. Bits are numbered least significant first
// within each byte, as Minix stores them on disk.
package bitmap

import "fmt"

// Bitmap is a view over a byte slice where bit i describes unit Offset+i.
// The slice is not copied, so a Bitmap over a cached block edits the block.
type Bitmap struct {
	Bits   []byte
	Offset int
}

// New returns a [Bitmap] over bits describing units starting at offset.
func New(bits []byte, offset int) Bitmap {
	return Bitmap{
		Bits:   bits,
		Offset: offset,
	}
}

// Len returns how many units the bitmap describes.
func (m Bitmap) Len() int {
	return len(m.Bits) * 8 //nolint:mnd
}

// Contains reports whether index falls inside the bitmap.
func (m Bitmap) Contains(index int) bool {
	return index >= m.Offset && index < m.Offset+m.Len()
}

func (m Bitmap) locate(index int) (int, byte) {
	if !m.Contains(index) {
		panic(fmt.Sprintf("bitmap: index %d outside [%d, %d)", index, m.Offset, m.Offset+m.Len()))
	}

	idx := index - m.Offset

	return idx / 8, 1 << (idx % 8) //nolint:mnd
}

// Test reports whether the bit for index is set. An index outside the
// bitmap panics.
func (m Bitmap) Test(index int) bool {
	i, mask := m.locate(index)

	return m.Bits[i]&mask != 0
}

// Set sets or clears the bit for index. An index outside the bitmap panics.
func (m Bitmap) Set(index int, value bool) {
	i, mask := m.locate(index)

	if value {
		m.Bits[i] |= mask
	} else {
		m.Bits[i] &^= mask
	}
}

// Scan finds the first run of count clear bits, sets them and returns the
// index of the first one, or -1 if no such run exists.
func (m Bitmap) Scan(count int) int {
	if count <= 0 {
		return -1
	}

	run := 0
	for next := 0; next < m.Len(); next++ {
		i, mask := next/8, byte(1<<(next%8)) //nolint:mnd

		// Full bytes end any run; skip them whole.
		if next%8 == 0 && m.Bits[i] == 0xff {
			run = 0
			next += 7

			continue
		}

		if m.Bits[i]&mask != 0 {
			run = 0

			continue
		}

		run++
		if run == count {
			start := next - count + 1
			for j := start; j <= next; j++ {
				m.Bits[j/8] |= 1 << (j % 8) //nolint:mnd
			}

			return m.Offset + start
		}
	}

	return -1
}

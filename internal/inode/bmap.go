package inode

import (
	"fmt"

	"github.com/desertwitch/minixfs/internal/buffer"
	"github.com/desertwitch/minixfs/internal/layout"
)

// Bmap translates logical block block of in to a zone number. Blocks below
// 7 map directly, the next 512 through the single indirect zone and the
// rest through the double indirect zone. With create set, missing zones
// along the way are allocated; otherwise a missing zone yields 0, a hole.
//
// A logical block outside the addressable range panics.
func (t *Table) Bmap(in *Inode, block int, create bool) (uint16, error) {
	if block < 0 || block >= layout.TotalBlocks {
		panic(fmt.Sprintf("inode: logical block %d outside [0, %d)", block, layout.TotalBlocks))
	}

	slot, levels, divider := block, 0, 1

	if block >= layout.DirectZones {
		block -= layout.DirectZones
		slot, levels = layout.Indirect1Zone, 1

		if block >= layout.Indirect1Range {
			block -= layout.Indirect1Range
			slot, levels, divider = layout.Indirect2Zone, 2, layout.BlockIndexes //nolint:mnd
		}
	}

	zone := in.Desc.Zone(slot)
	if zone == 0 && create {
		var err error

		zone, err = t.fill(in.Dev,
			func() uint16 { return in.Desc.Zone(slot) },
			func(z uint16) { in.Desc.SetZone(slot, z); in.MarkDirty() })
		if err != nil {
			return 0, fmt.Errorf("(inode-bmap) %w", err)
		}
	}

	// The indirect block in hand stays referenced until the next one is.
	var held *buffer.Buffer

	for ; levels > 0 && zone != 0; levels-- {
		next, err := t.cache.Fetch(in.Dev, uint32(zone))
		if err != nil {
			_ = t.cache.Release(held)

			return 0, fmt.Errorf("(inode-bmap) %w", err)
		}

		if err := t.cache.Release(held); err != nil {
			_ = t.cache.Release(next)

			return 0, fmt.Errorf("(inode-bmap) %w", err)
		}
		held = next

		idx := block / divider
		block %= divider
		divider /= layout.BlockIndexes

		zone = layout.Pointer(held.Data, idx)
		if zone == 0 && create {
			zone, err = t.fill(in.Dev,
				func() uint16 { return layout.Pointer(held.Data, idx) },
				func(z uint16) { layout.SetPointer(held.Data, idx, z); held.MarkDirty() })
			if err != nil {
				_ = t.cache.Release(held)

				return 0, fmt.Errorf("(inode-bmap) %w", err)
			}
		}
	}

	if err := t.cache.Release(held); err != nil {
		return 0, fmt.Errorf("(inode-bmap) %w", err)
	}

	return zone, nil
}

// fill allocates a zone for an empty pointer. Allocation may wait for I/O,
// so the pointer is read again afterwards and a zone stored by someone else
// in the meantime wins.
func (t *Table) fill(dev int, get func() uint16, set func(uint16)) (uint16, error) {
	zone, err := t.alloc.AllocZone(dev)
	if err != nil {
		return 0, err
	}

	if cur := get(); cur != 0 {
		if err := t.alloc.FreeZone(dev, zone); err != nil {
			return 0, err
		}

		return cur, nil
	}

	set(zone)

	return zone, nil
}

// Package device implements the block transport underneath the filesystem
// engine: a [Registry] of installed devices, per-controller request
// serialization with elevator ordering, and file- or memory-backed disks.
package device

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/desertwitch/minixfs/internal/layout"
)

// Direction tells a [Request] whether to read from or write to the device.
type Direction int

const (
	DirRead Direction = iota
	DirWrite
)

func (d Direction) String() string {
	if d == DirWrite {
		return "write"
	}

	return "read"
}

// Request is a single sector-granular transfer.
type Request struct {
	Dev    int
	Data   []byte
	Count  int
	Sector int64
	Dir    Direction
}

// Transport performs synchronous sector transfers. A call blocks the caller
// until the transfer completes.
type Transport interface {
	Request(ctx context.Context, req Request) error
}

// Disk is the raw storage behind a controller. Offsets are in bytes.
type Disk interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	Size() int64
	Sync() error
	Close() error
}

type entry struct {
	name        string
	controller  *Controller
	sectorStart int64
	sectors     int64
}

// Registry assigns device ids to disks and routes requests to the owning
// [Controller]. It implements [Transport].
type Registry struct {
	sync.RWMutex
	devices map[int]*entry
	nextID  int
}

// NewRegistry returns a pointer to a new, empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		devices: make(map[int]*entry),
		nextID:  1,
	}
}

// Install registers a whole disk under a new controller and returns its id.
func (r *Registry) Install(name string, disk Disk) int {
	r.Lock()
	defer r.Unlock()

	id := r.nextID
	r.nextID++

	r.devices[id] = &entry{
		name:       name,
		controller: NewController(name, disk),
		sectors:    disk.Size() / layout.SectorSize,
	}

	slog.Debug("Installed block device", "dev", id, "name", name, "sectors", disk.Size()/layout.SectorSize)

	return id
}

// InstallPartition registers a sector range of an already installed device.
// The partition shares its parent's controller, so requests to both are
// serialized together.
func (r *Registry) InstallPartition(parent int, name string, sectorStart, sectors int64) (int, error) {
	r.Lock()
	defer r.Unlock()

	p, ok := r.devices[parent]
	if !ok {
		return 0, fmt.Errorf("(device-install) %w: %d", ErrNoDevice, parent)
	}

	if sectorStart < 0 || sectors <= 0 || sectorStart+sectors > p.sectors {
		return 0, fmt.Errorf("(device-install) %w: partition %d+%d of %d", ErrOutOfRange, sectorStart, sectors, p.sectors)
	}

	id := r.nextID
	r.nextID++

	r.devices[id] = &entry{
		name:        name,
		controller:  p.controller,
		sectorStart: p.sectorStart + sectorStart,
		sectors:     sectors,
	}

	return id, nil
}

// Name returns the name a device was installed under.
func (r *Registry) Name(dev int) (string, bool) {
	r.RLock()
	defer r.RUnlock()

	e, ok := r.devices[dev]
	if !ok {
		return "", false
	}

	return e.name, true
}

// Blocks returns the capacity of a device in filesystem blocks.
func (r *Registry) Blocks(dev int) (int64, error) {
	r.RLock()
	defer r.RUnlock()

	e, ok := r.devices[dev]
	if !ok {
		return 0, fmt.Errorf("(device-blocks) %w: %d", ErrNoDevice, dev)
	}

	return e.sectors / layout.BlockSectors, nil
}

// Request implements [Transport].
func (r *Registry) Request(ctx context.Context, req Request) error {
	r.RLock()
	e, ok := r.devices[req.Dev]
	r.RUnlock()

	if !ok {
		return fmt.Errorf("(device-request) %w: %d", ErrNoDevice, req.Dev)
	}

	if req.Count <= 0 || len(req.Data) != req.Count*layout.SectorSize {
		return fmt.Errorf("(device-request) %w: %d bytes for %d sectors", ErrUnaligned, len(req.Data), req.Count)
	}

	if req.Sector < 0 || req.Sector+int64(req.Count) > e.sectors {
		return fmt.Errorf("(device-request) %w: sector %d+%d of %d", ErrOutOfRange, req.Sector, req.Count, e.sectors)
	}

	if err := e.controller.Submit(ctx, e.sectorStart+req.Sector, req.Data, req.Dir); err != nil {
		return fmt.Errorf("(device-request) %s %s: %w", e.name, req.Dir, err)
	}

	return nil
}

// Sync flushes the disk behind a device.
func (r *Registry) Sync(dev int) error {
	r.RLock()
	e, ok := r.devices[dev]
	r.RUnlock()

	if !ok {
		return fmt.Errorf("(device-sync) %w: %d", ErrNoDevice, dev)
	}

	return e.controller.Sync()
}

// Close closes every controller's disk once.
func (r *Registry) Close() error {
	r.Lock()
	defer r.Unlock()

	var firstErr error
	seen := make(map[*Controller]struct{})

	for id, e := range r.devices {
		if _, ok := seen[e.controller]; !ok {
			seen[e.controller] = struct{}{}
			if err := e.controller.Close(); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("(device-close) %s: %w", e.name, err)
			}
		}
		delete(r.devices, id)
	}

	return firstErr
}

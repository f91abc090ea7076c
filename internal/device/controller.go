package device

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/desertwitch/minixfs/internal/layout"
)

type pending struct {
	sector  int64
	granted chan struct{}
}

// Controller serializes physical access to one [Disk]. Exactly one request
// is in flight at a time; waiting requests are kept sorted by sector and the
// next one is picked by an elevator sweep: upwards until the highest pending
// sector, then downwards until the lowest.
type Controller struct {
	sync.Mutex
	name    string
	disk    Disk
	queue   []*pending
	busy    bool
	up      bool
	closed  bool
	served  uint64
	maxWait int
}

// NewController returns a pointer to a new [Controller] driving disk.
func NewController(name string, disk Disk) *Controller {
	return &Controller{
		name: name,
		disk: disk,
		up:   true,
	}
}

// Submit performs one transfer, waiting for its turn on the controller.
func (c *Controller) Submit(ctx context.Context, sector int64, data []byte, dir Direction) error {
	p, err := c.enqueue(ctx, sector)
	if err != nil {
		return err
	}
	defer c.complete(p)

	off := sector * layout.SectorSize

	var n int
	if dir == DirWrite {
		n, err = c.disk.WriteAt(data, off)
	} else {
		n, err = c.disk.ReadAt(data, off)
	}

	if err != nil {
		return fmt.Errorf("(device-controller) %w", err)
	}

	if n != len(data) {
		return fmt.Errorf("(device-controller) %w: %d of %d bytes", ErrShortIO, n, len(data))
	}

	return nil
}

func (c *Controller) enqueue(ctx context.Context, sector int64) (*pending, error) {
	c.Lock()

	if c.closed {
		c.Unlock()

		return nil, ErrClosed
	}

	p := &pending{
		sector:  sector,
		granted: make(chan struct{}),
	}

	i := sort.Search(len(c.queue), func(i int) bool { return c.queue[i].sector > sector })
	c.queue = append(c.queue, nil)
	copy(c.queue[i+1:], c.queue[i:])
	c.queue[i] = p

	if len(c.queue) > c.maxWait {
		c.maxWait = len(c.queue)
	}

	if !c.busy {
		c.busy = true
		close(p.granted)
	}
	c.Unlock()

	select {
	case <-p.granted:
		return p, nil
	case <-ctx.Done():
	}

	c.Lock()
	defer c.Unlock()

	select {
	case <-p.granted:
		// Granted while we were giving up; hand the turn on.
		c.advance(p)
	default:
		c.remove(p)
	}

	return nil, fmt.Errorf("(device-controller) %w", ctx.Err())
}

func (c *Controller) complete(p *pending) {
	c.Lock()
	defer c.Unlock()

	c.served++
	c.advance(p)
}

// advance removes the finished request p and grants the next one. Must be
// called with the controller locked.
func (c *Controller) advance(p *pending) {
	i := c.index(p)
	next := c.next(i)
	c.remove(p)

	if next == nil {
		c.busy = false

		return
	}

	close(next.granted)
}

func (c *Controller) next(i int) *pending {
	if c.up && i == len(c.queue)-1 {
		c.up = false
	} else if !c.up && i == 0 {
		c.up = true
	}

	j := i - 1
	if c.up {
		j = i + 1
	}

	if j < 0 || j >= len(c.queue) {
		return nil
	}

	return c.queue[j]
}

func (c *Controller) index(p *pending) int {
	for i, q := range c.queue {
		if q == p {
			return i
		}
	}

	panic(fmt.Sprintf("device: request for sector %d not queued on %s", p.sector, c.name))
}

func (c *Controller) remove(p *pending) {
	i := c.index(p)
	c.queue = append(c.queue[:i], c.queue[i+1:]...)
}

// Served returns how many requests completed and the deepest queue seen.
func (c *Controller) Served() (uint64, int) {
	c.Lock()
	defer c.Unlock()

	return c.served, c.maxWait
}

// Sync flushes the disk.
func (c *Controller) Sync() error {
	c.Lock()
	defer c.Unlock()

	if c.closed {
		return ErrClosed
	}

	if err := c.disk.Sync(); err != nil {
		return fmt.Errorf("(device-sync) %w", err)
	}

	return nil
}

// Close closes the disk; later submissions fail with [ErrClosed].
func (c *Controller) Close() error {
	c.Lock()
	defer c.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	return c.disk.Close()
}

// Package kernel ties the buffer cache, superblock registry, allocator,
// inode table and directory resolver together around a single kernel lock
// and offers them as a system call interface. Every method takes the lock
// for its whole duration; device I/O and waits for a free buffer release it.
package kernel

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/desertwitch/minixfs/internal/alloc"
	"github.com/desertwitch/minixfs/internal/buffer"
	"github.com/desertwitch/minixfs/internal/configuration"
	"github.com/desertwitch/minixfs/internal/device"
	"github.com/desertwitch/minixfs/internal/inode"
	"github.com/desertwitch/minixfs/internal/layout"
	"github.com/desertwitch/minixfs/internal/namei"
	"github.com/desertwitch/minixfs/internal/super"
)

// Task is the per-process context: identity, umask, root and working
// directory.
type Task = namei.Task

// DirEntry is one entry of a directory listing.
type DirEntry = namei.DirEntry

// Stat is a copy of an inode's descriptor.
type Stat = namei.Stat

// StatFS describes a mounted filesystem and the buffer cache.
type StatFS struct {
	Dev        int
	BlockSize  int
	Zones      int
	FreeZones  int
	Inodes     int
	FreeInodes int
	Cache      buffer.Stats
	Resident   int
}

// Kernel owns every arena of the filesystem engine.
type Kernel struct {
	mu sync.Mutex

	cfg      configuration.Config
	devices  *device.Registry
	cache    *buffer.Cache
	supers   *super.Registry
	alloc    *alloc.Allocator
	table    *inode.Table
	resolver *namei.Resolver

	root    *inode.Inode
	rootDev int
}

// New returns a pointer to a new [Kernel] sized by cfg, doing its I/O
// through devices.
func New(cfg configuration.Config, devices *device.Registry) *Kernel {
	k := &Kernel{
		cfg:     cfg,
		devices: devices,
		rootDev: -1,
	}

	k.cache = buffer.NewCache(&k.mu, devices, cfg.Buffers)
	k.supers = super.NewRegistry(&k.mu, k.cache, cfg.Supers, cfg.HaltOnExhaustion)
	k.supers.DeviceBlocks = devices.Blocks
	k.alloc = alloc.New(k.cache, k.supers, cfg.HaltOnExhaustion)
	k.table = inode.NewTable(k.cache, k.supers, k.alloc, cfg.Inodes, cfg.HaltOnExhaustion)
	k.resolver = namei.New(k.table, k.cache)

	return k
}

// MountRoot reads the superblock of dev and pins its root directory.
func (k *Kernel) MountRoot(dev int) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.root != nil {
		return fmt.Errorf("(kernel-mountroot) %w: dev %d", ErrRootMounted, k.rootDev)
	}

	sb, err := k.supers.Read(dev)
	if err != nil {
		return fmt.Errorf("(kernel-mountroot) %w", err)
	}

	root, err := k.table.Get(dev, layout.RootInode)
	if err == nil && !root.IsDir() {
		_ = k.table.Put(root)
		err = fmt.Errorf("%w: root inode", namei.ErrNotDirectory)
	}

	if err != nil {
		if perr := k.supers.Put(dev); perr != nil {
			slog.Warn("Failed to release superblock", "dev", dev, "err", perr)
		}

		return fmt.Errorf("(kernel-mountroot) %w", err)
	}

	// The root filesystem is mounted on its own root directory.
	sb.Root = root
	sb.Mount = root

	k.root = root
	k.rootDev = dev

	slog.Info("Mounted root filesystem", "dev", dev)

	return nil
}

// NewTask returns a task running as uid and gid with its root and working
// directory at "/".
func (k *Kernel) NewTask(uid uint16, gid uint8) (*Task, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.root == nil {
		return nil, fmt.Errorf("(kernel-newtask) %w", ErrNoRoot)
	}

	task, err := k.resolver.NewTask(k.rootDev, uid, gid, k.cfg.Umask)
	if err != nil {
		return nil, fmt.Errorf("(kernel-newtask) %w", err)
	}

	return task, nil
}

// ExitTask drops the directories held by task.
func (k *Kernel) ExitTask(task *Task) {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.resolver.Exit(task)
}

// Mkdir creates the directory path.
func (k *Kernel) Mkdir(task *Task, path string, mode uint16) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	return k.resolver.Mkdir(task, path, mode)
}

// Rmdir removes the empty directory path.
func (k *Kernel) Rmdir(task *Task, path string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	return k.resolver.Rmdir(task, path)
}

// Link makes newPath another name of oldPath.
func (k *Kernel) Link(task *Task, oldPath, newPath string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	return k.resolver.Link(task, oldPath, newPath)
}

// Unlink removes the name path.
func (k *Kernel) Unlink(task *Task, path string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	return k.resolver.Unlink(task, path)
}

// Chdir changes the task's working directory.
func (k *Kernel) Chdir(task *Task, path string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	return k.resolver.Chdir(task, path)
}

// Chroot changes the task's root directory.
func (k *Kernel) Chroot(task *Task, path string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	return k.resolver.Chroot(task, path)
}

// Getcwd returns the task's working directory.
func (k *Kernel) Getcwd(task *Task) string {
	k.mu.Lock()
	defer k.mu.Unlock()

	return k.resolver.Getcwd(task)
}

// ReadDir lists the directory path.
func (k *Kernel) ReadDir(task *Task, path string) ([]DirEntry, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	return k.resolver.ReadDir(task, path)
}

// Stat describes the inode at path.
func (k *Kernel) Stat(task *Task, path string) (Stat, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	return k.resolver.Stat(task, path)
}

// StatFS describes the root filesystem.
func (k *Kernel) StatFS() (StatFS, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.root == nil {
		return StatFS{}, fmt.Errorf("(kernel-statfs) %w", ErrNoRoot)
	}

	u, err := k.alloc.Count(k.rootDev)
	if err != nil {
		return StatFS{}, fmt.Errorf("(kernel-statfs) %w", err)
	}

	return StatFS{
		Dev:        k.rootDev,
		BlockSize:  layout.BlockSize,
		Zones:      u.Zones,
		FreeZones:  u.FreeZones,
		Inodes:     u.Inodes,
		FreeInodes: u.FreeInodes,
		Cache:      k.cache.Stats(),
		Resident:   k.table.Resident(),
	}, nil
}

// Sync writes every dirty block of the mounted filesystems and flushes the
// devices holding them.
func (k *Kernel) Sync() error {
	k.mu.Lock()

	devs := k.supers.Mounted()

	var errs []error
	for _, dev := range devs {
		if err := k.cache.Sync(dev); err != nil {
			errs = append(errs, err)
		}
	}

	k.mu.Unlock()

	for _, dev := range devs {
		if err := k.devices.Sync(dev); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("(kernel-sync) %w", err)
	}

	return nil
}

// Unmount releases the root directory and unmounts the root filesystem.
// Every task must have exited and every file been closed.
func (k *Kernel) Unmount() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.root == nil {
		return fmt.Errorf("(kernel-unmount) %w", ErrNoRoot)
	}

	if sb := k.supers.Get(k.rootDev); sb != nil && len(sb.Inodes) > 1 {
		return fmt.Errorf("(kernel-unmount) %w: %d resident inodes", super.ErrBusy, len(sb.Inodes))
	}

	if k.root.Refs() > 1 {
		return fmt.Errorf("(kernel-unmount) %w: root directory in use", super.ErrBusy)
	}

	if sb := k.supers.Get(k.rootDev); sb != nil {
		sb.Root = nil
		sb.Mount = nil
	}

	if err := k.table.Put(k.root); err != nil {
		return fmt.Errorf("(kernel-unmount) %w", err)
	}
	k.root = nil

	if err := k.supers.Put(k.rootDev); err != nil {
		return fmt.Errorf("(kernel-unmount) %w", err)
	}

	slog.Info("Unmounted root filesystem", "dev", k.rootDev)
	k.rootDev = -1

	return nil
}

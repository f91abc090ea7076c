package super

import "errors"

var (
	// ErrNoFreeSuper is an error that occurs when every superblock slot is
	// taken by a mounted device.
	ErrNoFreeSuper = errors.New("no free superblock slot")

	// ErrGeometry is an error that occurs when a superblock declares bitmap
	// or inode counts the engine cannot hold.
	ErrGeometry = errors.New("unsupported filesystem geometry")

	// ErrBusy is an error that occurs when a device is unmounted while inodes
	// of it are still resident.
	ErrBusy = errors.New("device is busy")

	// ErrNotMounted is an error that occurs when an operation names a device
	// without a mounted superblock.
	ErrNotMounted = errors.New("device not mounted")
)

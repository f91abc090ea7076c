package inode

import "errors"

var (
	// ErrNoFreeInode is an error that occurs when every slot of the in-memory
	// inode table is referenced.
	ErrNoFreeInode = errors.New("inode table full")

	// ErrFileTooLarge is an error that occurs when a write would extend a file
	// past what the zone array can address.
	ErrFileTooLarge = errors.New("file too large")
)

package layout

import "errors"

var (
	// ErrBadMagic is an error that occurs when a superblock does not carry
	// the Minix v1 magic number, meaning the device holds no such filesystem.
	ErrBadMagic = errors.New("bad superblock magic")

	// ErrShortBlock is an error that occurs when a byte slice handed to a
	// decoder is shorter than the record it is supposed to contain.
	ErrShortBlock = errors.New("block too short for record")
)

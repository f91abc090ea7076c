package mkfs

import "errors"

// ErrInvalidSize is an error that occurs when the requested block or inode
// counts cannot be represented in a Minix v1 superblock, or do not fit the
// disk.
var ErrInvalidSize = errors.New("invalid filesystem size")

package kernel

import "errors"

var (
	// ErrBadFile is returned for a closed file or one not opened for the
	// requested access.
	ErrBadFile = errors.New("bad file")

	// ErrNoRoot is returned when no root filesystem is mounted.
	ErrNoRoot = errors.New("no root filesystem")

	// ErrRootMounted is returned when a second root filesystem is mounted.
	ErrRootMounted = errors.New("root filesystem already mounted")
)

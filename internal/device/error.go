package device

import "errors"

var (
	// ErrNoDevice is an error that occurs when a request names a device id
	// that was never installed in the [Registry].
	ErrNoDevice = errors.New("no such device")

	// ErrUnaligned is an error that occurs when a request's data length does
	// not match its sector count, or an offset is not sector aligned.
	ErrUnaligned = errors.New("request not sector aligned")

	// ErrShortIO is an error that occurs when the backing disk transferred
	// fewer bytes than requested, e.g. when reading past the end of an image.
	ErrShortIO = errors.New("short transfer")

	// ErrOutOfRange is an error that occurs when a request reaches beyond the
	// end of the backing disk.
	ErrOutOfRange = errors.New("request beyond end of device")

	// ErrLocked is an error that occurs when a disk image is already locked by
	// another process.
	ErrLocked = errors.New("disk image is locked by another process")

	// ErrClosed is an error that occurs when a request is made against a disk
	// that was already closed.
	ErrClosed = errors.New("disk is closed")
)

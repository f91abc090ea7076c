package namei

import "errors"

var (
	// ErrNotFound is an error that occurs when a path component or directory
	// entry does not exist.
	ErrNotFound = errors.New("no such file or directory")

	// ErrNotDirectory is an error that occurs when a path component that must
	// be a directory is something else.
	ErrNotDirectory = errors.New("not a directory")

	// ErrIsDirectory is an error that occurs when an operation meant for files
	// (opening, linking, unlinking) is applied to a directory.
	ErrIsDirectory = errors.New("is a directory")

	// ErrPermission is an error that occurs when the task's identity lacks
	// the access the operation needs.
	ErrPermission = errors.New("permission denied")

	// ErrExists is an error that occurs when an entry to be created already
	// exists.
	ErrExists = errors.New("file exists")

	// ErrBusy is an error that occurs when removing a directory that is not
	// empty or still referenced, or when linking across devices.
	ErrBusy = errors.New("device or resource busy")

	// ErrInvalid is an error that occurs for malformed paths or operations on
	// entries that cannot be their target, such as "." and "..".
	ErrInvalid = errors.New("invalid argument")
)

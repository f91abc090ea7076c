package importer

import "errors"

var (
	// ErrDigestMismatch is returned when bytes read back from the image
	// differ from the host file.
	ErrDigestMismatch = errors.New("digest mismatch")

	// ErrFiltered is returned when the job filters abort an import.
	ErrFiltered = errors.New("import aborted by filters")

	// ErrNotDirectory is returned when the import source is not a directory.
	ErrNotDirectory = errors.New("source is not a directory")
)

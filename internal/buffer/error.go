package buffer

import "errors"

// ErrLoad is an error that occurs when a block could not be read from its
// device into the cache.
var ErrLoad = errors.New("failed to load block")

// ErrWriteback is an error that occurs when a dirty buffer could not be
// written to its device. The buffer stays dirty.
var ErrWriteback = errors.New("failed to write back block")

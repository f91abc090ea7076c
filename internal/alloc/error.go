package alloc

import "errors"

// ErrNoSpace is an error that occurs when a bitmap has no clear bit left,
// meaning the device is out of data zones or inodes.
var ErrNoSpace = errors.New("no space left on device")

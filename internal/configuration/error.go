package configuration

import "errors"

// ErrInvalidValue is returned for a configuration value that cannot be
// parsed or is out of range.
var ErrInvalidValue = errors.New("invalid configuration value")

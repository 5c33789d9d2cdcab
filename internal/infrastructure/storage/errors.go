package storage

import "errors"

// ErrNotFound is returned when a tender id does not exist.
var ErrNotFound = errors.New("tender not found")

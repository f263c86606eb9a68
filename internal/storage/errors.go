package storage

import "errors"

// Domain errors for the storage package.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("storage: not found")

	// ErrInvalidRecord is returned for records that cannot be stored or
	// whose stored form no longer decodes.
	ErrInvalidRecord = errors.New("storage: invalid record")
)

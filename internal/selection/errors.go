package selection

import "errors"

var (
	// ErrNotFound is returned when no record exists for a gateway.
	ErrNotFound = errors.New("selection: record not found")

	// ErrInvalidRecord is returned when a record fails validation.
	ErrInvalidRecord = errors.New("selection: invalid record")
)

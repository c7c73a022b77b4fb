package inventory

import "errors"

var (
	// ErrInvalidItem is returned when an inventory payload does not describe
	// a well-formed item.
	ErrInvalidItem = errors.New("inventory: invalid item")

	// ErrInvalidKey is returned when a key string cannot be parsed.
	ErrInvalidKey = errors.New("inventory: invalid key")
)

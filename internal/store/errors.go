package store

import "errors"

// Sentinel errors for the store package.
var (
	// ErrInvalidCursor is returned when a cursor cannot be decoded.
	ErrInvalidCursor = errors.New("invalid cursor format")

	// ErrInvalidEntry is returned when a feed entry fails validation.
	ErrInvalidEntry = errors.New("invalid feed entry")
)

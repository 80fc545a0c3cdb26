package codehash

import "errors"

// Public, stable errors for callers.
var (
	ErrInvalidCode = errors.New("invalid code format")
	ErrInvalidHash = errors.New("invalid code hash")
)

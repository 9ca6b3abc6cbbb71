package keyManager

import "errors"

var (
	// ErrUnauthorized is the only denial. It never says which capability
	// was missing or whether the key has any entries at all.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidOperation rejects attempts to alter the implicit rights of
	// a key owner.
	ErrInvalidOperation = errors.New("keyManager: invalid operation")
)

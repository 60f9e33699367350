package buddy

import "errors"

// Error definitions
var (
	// ErrInvalidSize is returned when a zero-byte allocation is requested
	ErrInvalidSize = errors.New("invalid size")
	// ErrInsufficientSpace is returned when no free block of the rounded size is available
	ErrInsufficientSpace = errors.New("insufficient space")
	// ErrCreationFailure is returned when an allocator cannot be constructed
	ErrCreationFailure = errors.New("allocator creation failed")
	// ErrDestroyed is returned when allocating from a destroyed allocator
	ErrDestroyed = errors.New("allocator destroyed")
)

package semantic

import "errors"

// Sentinel errors for semantic index operations.
var (
	ErrInvalidCollection = errors.New("invalid collection name")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrInvalidK          = errors.New("search k must be positive")
)

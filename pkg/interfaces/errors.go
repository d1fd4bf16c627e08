package interfaces

import "errors"

// Common interface errors used across components
var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized access")

	// ErrMessageNotFound is returned by operations addressing a message
	// that does not exist
	ErrMessageNotFound = errors.New("message not found")
)

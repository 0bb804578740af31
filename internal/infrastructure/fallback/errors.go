package fallback

import "errors"

var (
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("fallback: store closed")

	// ErrInvalidPath is returned when no file path is configured.
	ErrInvalidPath = errors.New("fallback: path is required")
)

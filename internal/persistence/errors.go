package persistence

import "errors"

// Domain errors for the persistence package.
var (
	// ErrNotFound is returned when deleting a row that does not exist.
	ErrNotFound = errors.New("persistence: not found")

	// ErrInvalidSchedule is returned when the purge schedule does not parse.
	ErrInvalidSchedule = errors.New("persistence: invalid purge schedule")

	// ErrCorruptRow is returned when a stored row cannot be decoded.
	ErrCorruptRow = errors.New("persistence: corrupt row")
)

package command

import "errors"

// Domain errors for the command package.
var (
	// ErrInvalidCommand is returned when a command tag definition fails validation.
	ErrInvalidCommand = errors.New("command: invalid command tag")

	// ErrInvalidValue is returned when a command value does not fit the tag.
	ErrInvalidValue = errors.New("command: invalid value")

	// ErrUnknownExecution is returned for a report that matches no pending execution.
	ErrUnknownExecution = errors.New("command: unknown execution")

	// ErrStaleReport is returned for a report older than the last one recorded.
	ErrStaleReport = errors.New("command: stale report")
)

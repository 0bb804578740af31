package supervision

import "errors"

// Domain errors for the supervision package.
var (
	// ErrUnknownFamily is returned for a family name other than process,
	// equipment or subequipment.
	ErrUnknownFamily = errors.New("supervision: unknown family")

	// ErrInvalidEntity is returned when an entity definition fails validation.
	ErrInvalidEntity = errors.New("supervision: invalid entity")

	// ErrParentNotFound is returned when an entity names a parent that is not cached.
	ErrParentNotFound = errors.New("supervision: parent not found")

	// ErrHasChildren is returned when removing an entity that still has children.
	ErrHasChildren = errors.New("supervision: entity has children")

	// ErrAliveRejected is returned for an alive signal older than the
	// rejection window.
	ErrAliveRejected = errors.New("supervision: alive signal too old")

	// ErrSignalMismatch is returned when a control tag is not the alive or
	// comm-fault tag of the entity that owns it.
	ErrSignalMismatch = errors.New("supervision: control tag not configured on owner")
)

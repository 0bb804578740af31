package tag

import "errors"

// Domain errors for the tag package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, tag.ErrInvalidTag) {
//	    // reject the configuration
//	}
var (
	// ErrInvalidTag is returned when tag validation fails.
	ErrInvalidTag = errors.New("tag: invalid")

	// ErrInvalidName is returned when a tag name is empty or too long.
	ErrInvalidName = errors.New("tag: invalid name")

	// ErrInvalidKind is returned when the kind is not recognised.
	ErrInvalidKind = errors.New("tag: invalid kind")

	// ErrInvalidDataType is returned when the data type is not recognised.
	ErrInvalidDataType = errors.New("tag: invalid data type")

	// ErrInvalidRule is returned when a rule tag has no expression or inputs.
	ErrInvalidRule = errors.New("tag: invalid rule")

	// ErrInvalidRole is returned when a control tag has no valid role or owner.
	ErrInvalidRole = errors.New("tag: invalid control role")

	// ErrTypeMismatch is returned when a value cannot be coerced to the tag's data type.
	ErrTypeMismatch = errors.New("tag: value type mismatch")
)

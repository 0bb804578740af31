package monitor

import "errors"

// Domain errors for the monitor package.
var (
	// ErrRuleTag is returned when a source value is submitted for a rule tag.
	// Rule values are computed by the rule engine only.
	ErrRuleTag = errors.New("monitor: rule tags cannot receive source values")

	// ErrTagInUse is returned when removing a tag that rules still read.
	ErrTagInUse = errors.New("monitor: tag is a rule input")

	// ErrAlreadyStarted is returned by LoadAll after Start.
	ErrAlreadyStarted = errors.New("monitor: already started")
)

package rule

import "errors"

// Domain errors for the rule package.
var (
	// ErrEvaluation is returned when a rule expression fails at run time.
	ErrEvaluation = errors.New("rule: evaluation failed")

	// ErrTimeout is returned when an evaluation exceeds its time budget.
	ErrTimeout = errors.New("rule: evaluation timed out")

	// ErrCompile is returned when a rule expression cannot be compiled.
	ErrCompile = errors.New("rule: compile failed")

	// ErrMissingInput is returned when a rule reads a tag that is not in the cache.
	ErrMissingInput = errors.New("rule: input not found")

	// ErrDepthExceeded is returned when a chain of rule evaluations is deeper than allowed.
	ErrDepthExceeded = errors.New("rule: evaluation depth exceeded")

	// ErrCycle is returned when a rule would read its own output through other rules.
	ErrCycle = errors.New("rule: dependency cycle")

	// ErrNotRule is returned when a tag passed as a rule is not a rule tag.
	ErrNotRule = errors.New("rule: not a rule tag")
)

package rule

import (
	"context"
	"time"
)

// Input is the view an expression gets of one input tag.
type Input struct {
	Value     any
	Valid     bool
	Timestamp time.Time
}

// Expression is a compiled rule.
//
// Evaluate must return promptly once ctx is done; the engine cancels ctx
// when the per-rule time budget is spent. The engine never evaluates one
// rule on two workers at once.
type Expression interface {
	Evaluate(ctx context.Context, inputs map[int64]Input) (any, error)
}

// Compiler turns rule text into an Expression.
type Compiler interface {
	Compile(text string) (Expression, error)
}

// ExpressionFunc adapts a function to the Expression interface.
type ExpressionFunc func(ctx context.Context, inputs map[int64]Input) (any, error)

// Evaluate calls f.
func (f ExpressionFunc) Evaluate(ctx context.Context, inputs map[int64]Input) (any, error) {
	return f(ctx, inputs)
}

// CompilerFunc adapts a function to the Compiler interface.
type CompilerFunc func(text string) (Expression, error)

// Compile calls f.
func (f CompilerFunc) Compile(text string) (Expression, error) {
	return f(text)
}

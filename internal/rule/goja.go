package rule

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/dop251/goja"
)

// tagRef matches "#<id>" references in rule text.
var tagRef = regexp.MustCompile(`#(\d+)`)

// GojaCompiler compiles rule text as an ECMAScript expression.
//
// Inputs are visible to the script in three ways:
//   - #123 in the rule text, rewritten to the variable $123
//   - tag(123), which throws if 123 is not an input of the rule
//   - valid(123), which reports whether the input has valid quality
//
// The completion value of the script is the rule value.
type GojaCompiler struct{}

// Compile parses text once; the resulting program is shared by every
// evaluation of the rule.
func (GojaCompiler) Compile(text string) (Expression, error) {
	src := tagRef.ReplaceAllString(text, "$$$1")
	prog, err := goja.Compile("rule", src, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCompile, err)
	}
	return &gojaExpression{prog: prog}, nil
}

type gojaExpression struct {
	prog *goja.Program
}

// Evaluate runs the program on a fresh runtime. goja runtimes are not safe
// for concurrent use, compiled programs are.
func (g *gojaExpression) Evaluate(ctx context.Context, inputs map[int64]Input) (v any, err error) {
	vm := goja.New()

	for id, in := range inputs {
		if err := vm.Set(fmt.Sprintf("$%d", id), in.Value); err != nil {
			return nil, fmt.Errorf("%w: binding input %d: %w", ErrEvaluation, id, err)
		}
	}
	lookup := func(id int64) Input {
		in, ok := inputs[id]
		if !ok {
			panic(vm.NewGoError(fmt.Errorf("%w: tag %d is not an input of this rule", ErrMissingInput, id)))
		}
		return in
	}
	if err := vm.Set("tag", func(id int64) any { return lookup(id).Value }); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEvaluation, err)
	}
	if err := vm.Set("valid", func(id int64) bool { return lookup(id).Valid }); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEvaluation, err)
	}

	ictx, cancel := context.WithCancel(ctx)
	go func() {
		<-ictx.Done()
		// Fires after a normal return too, once cancel runs; by then
		// RunProgram has finished and the interrupt is never observed.
		vm.Interrupt(ctx.Err())
	}()
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrEvaluation, r)
		}
	}()

	res, err := vm.RunProgram(g.prog)
	if err != nil {
		var ie *goja.InterruptedError
		if errors.As(err, &ie) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, ie.Value())
		}
		return nil, fmt.Errorf("%w: %w", ErrEvaluation, err)
	}
	if res == nil || goja.IsUndefined(res) || goja.IsNull(res) {
		return nil, fmt.Errorf("%w: expression produced no value", ErrEvaluation)
	}
	return res.Export(), nil
}

package rule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compile(t *testing.T, text string) Expression {
	t.Helper()
	expr, err := GojaCompiler{}.Compile(text)
	require.NoError(t, err)
	return expr
}

func TestGoja_Evaluate(t *testing.T) {
	inputs := map[int64]Input{
		1: {Value: 2.5, Valid: true},
		2: {Value: 4.0, Valid: false},
		3: {Value: true, Valid: true},
	}

	tests := []struct {
		name string
		text string
		want any
	}{
		{"references", "#1 + #2", 6.5},
		{"integral result", "#2 * 2", int64(8)},
		{"boolean", "#1 > 2 && #3", true},
		{"tag function", "tag(1) * 2", int64(5)},
		{"valid function", "valid(1) && !valid(2)", true},
		{"conditional", "#3 ? 'on' : 'off'", "on"},
		{"statements", "var s = 0; for (var i = 0; i < 3; i++) { s += #1 } s", 7.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := compile(t, tt.text).Evaluate(context.Background(), inputs)
			require.NoError(t, err)
			assert.EqualValues(t, tt.want, got)
		})
	}
}

func TestGoja_CompileError(t *testing.T) {
	_, err := GojaCompiler{}.Compile("#1 +")
	assert.ErrorIs(t, err, ErrCompile)
}

func TestGoja_RuntimeErrors(t *testing.T) {
	inputs := map[int64]Input{1: {Value: 1.0, Valid: true}}

	tests := []struct {
		name string
		text string
	}{
		{"throw", "throw new Error('boom')"},
		{"undefined result", "undefined"},
		{"unknown tag", "tag(99)"},
		{"unbound reference", "#99 + 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compile(t, tt.text).Evaluate(context.Background(), inputs)
			assert.ErrorIs(t, err, ErrEvaluation)
		})
	}
}

func TestGoja_Timeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := compile(t, "while (true) {}").Evaluate(ctx, nil)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestGoja_ConcurrentEvaluation(t *testing.T) {
	expr := compile(t, "#1 * 2")

	done := make(chan any, 8)
	for i := 0; i < 8; i++ {
		go func(v float64) {
			got, err := expr.Evaluate(context.Background(), map[int64]Input{1: {Value: v, Valid: true}})
			if err != nil {
				done <- err
				return
			}
			done <- got
		}(float64(i) + 0.5)
	}
	for i := 0; i < 8; i++ {
		_, isErr := (<-done).(error)
		assert.False(t, isErr)
	}
}

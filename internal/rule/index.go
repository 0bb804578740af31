package rule

import (
	"slices"
	"sync"

	"github.com/nerrad567/gray-logic-monitor/internal/tag"
)

// Index maps each tag id to the rules that read it.
//
// It is written when rules are configured or removed and read on every
// accepted tag update.
//
// Thread Safety: safe for concurrent use; readers never block each other.
type Index struct {
	mu         sync.RWMutex
	dependents map[int64]map[int64]struct{} // input tag id → rule ids
	inputs     map[int64][]int64            // rule id → input tag ids
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{
		dependents: make(map[int64]map[int64]struct{}),
		inputs:     make(map[int64][]int64),
	}
}

// Add records the inputs of a rule tag, replacing any earlier definition.
func (x *Index) Add(r *tag.Tag) {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.removeLocked(r.ID)
	inputs := slices.Clone(r.RuleInputs)
	x.inputs[r.ID] = inputs
	for _, in := range inputs {
		set, ok := x.dependents[in]
		if !ok {
			set = make(map[int64]struct{})
			x.dependents[in] = set
		}
		set[r.ID] = struct{}{}
	}
}

// Remove forgets a rule. It reports whether the rule was indexed.
func (x *Index) Remove(ruleID int64) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.removeLocked(ruleID)
}

func (x *Index) removeLocked(ruleID int64) bool {
	inputs, ok := x.inputs[ruleID]
	if !ok {
		return false
	}
	for _, in := range inputs {
		if set := x.dependents[in]; set != nil {
			delete(set, ruleID)
			if len(set) == 0 {
				delete(x.dependents, in)
			}
		}
	}
	delete(x.inputs, ruleID)
	return true
}

// Dependents returns the rules reading tagID in ascending order.
func (x *Index) Dependents(tagID int64) []int64 {
	x.mu.RLock()
	set := x.dependents[tagID]
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	x.mu.RUnlock()
	slices.Sort(out)
	return out
}

// Inputs returns the inputs recorded for a rule.
func (x *Index) Inputs(ruleID int64) ([]int64, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	in, ok := x.inputs[ruleID]
	return slices.Clone(in), ok
}

// Len returns the number of indexed rules.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.inputs)
}

// Cycle reports a rule id already in the index whose inputs lead back to
// ruleID, if giving ruleID the inputs given would close a loop.
func (x *Index) Cycle(ruleID int64, inputs []int64) (int64, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	seen := make(map[int64]struct{})
	stack := slices.Clone(inputs)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if id == ruleID {
			return id, true
		}
		stack = append(stack, x.inputs[id]...)
	}
	return 0, false
}

package supervision

// FlowPolicy orders writes to the supervision stores.
//
// A candidate is accepted when its status time is newer than the current
// one, or equal with different content. An older status time is rejected.
type FlowPolicy struct{}

// Accept implements cache.Policy for *Entity.
func (FlowPolicy) Accept(current, candidate *Entity) bool {
	if current == nil {
		return true
	}
	switch {
	case candidate.StatusTime.After(current.StatusTime):
		return true
	case candidate.StatusTime.Equal(current.StatusTime):
		return !current.Equal(candidate)
	}
	return false
}

package cache

// Policy decides whether a candidate may replace the cached entity.
// It is consulted by PutIfValid only; Put and Compute bypass it.
//
// Implementations must be pure: they are called with the key lock held.
type Policy[T any] interface {
	Accept(current, candidate T) bool
}

// PolicyFunc adapts a function to the Policy interface.
type PolicyFunc[T any] func(current, candidate T) bool

// Accept calls f.
func (f PolicyFunc[T]) Accept(current, candidate T) bool {
	return f(current, candidate)
}

// AlwaysAccept is the default policy of a store built without WithPolicy.
func AlwaysAccept[T any]() Policy[T] {
	return PolicyFunc[T](func(_, _ T) bool { return true })
}

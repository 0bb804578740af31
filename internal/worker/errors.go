package worker

import "errors"

// Sentinel errors for worker pool operations.
var (
	// ErrPoolNotStarted is returned by Submit before Start.
	ErrPoolNotStarted = errors.New("worker: pool not started")

	// ErrPoolStopped is returned by Submit after Stop.
	ErrPoolStopped = errors.New("worker: pool stopped")

	// ErrPoolAlreadyStarted is returned when Start is called twice.
	ErrPoolAlreadyStarted = errors.New("worker: pool already started")

	// ErrQueueFull is returned when the work queue is at capacity. The item is dropped.
	ErrQueueFull = errors.New("worker: queue full")

	// ErrNilProcessor is the panic value of NewPool for a nil processor.
	ErrNilProcessor = errors.New("worker: processor function cannot be nil")

	// ErrStopTimeout is returned when workers do not finish within the Stop timeout.
	ErrStopTimeout = errors.New("worker: timeout waiting for workers to stop")
)

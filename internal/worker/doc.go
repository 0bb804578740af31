// Package worker provides a generic bounded worker pool.
//
// The pool runs a fixed number of goroutines reading from a buffered
// channel. Submit is non-blocking: a full queue drops the item and returns
// ErrQueueFull, which callers count and log. Rule evaluation uses a pool so
// that a slow expression can occupy at most its worker, never the goroutine
// that accepted the triggering update.
//
//	producer ──Submit──▶ [ queue (bounded) ] ──▶ worker 1..N ──▶ processor(ctx, item)
//	                          │ full
//	                          ▼
//	                     ErrQueueFull (dropped, counted)
//
// Stats are always tracked with atomics. Prometheus metrics are optional
// and enabled with WithMetrics.
//
// Lifecycle: Start may be called once; Stop closes the queue, lets workers
// drain what is already queued and waits up to the given timeout.
package worker

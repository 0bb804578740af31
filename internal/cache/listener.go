package cache

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// EventKind distinguishes writes from removals.
type EventKind int

// Event kinds.
const (
	EventUpdated EventKind = iota + 1
	EventRemoved
)

func (k EventKind) String() string {
	switch k {
	case EventUpdated:
		return "updated"
	case EventRemoved:
		return "removed"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event describes one accepted write or removal.
// Value is a private copy for the receiving listener.
type Event[T any] struct {
	Kind  EventKind
	Key   int64
	Value T
	Time  time.Time
}

// Subscription detaches a listener.
//
// Close may be called concurrently with dispatch. Once it returns the
// listener is never invoked again. Close must not be called from the
// listener's own callback.
type Subscription interface {
	Close()
}

type syncListener[T any] struct {
	mu     sync.RWMutex
	active bool
	fn     func(Event[T])
}

// registry holds the listeners of one store. The listener slice is
// copy-on-write so dispatch never takes the registry mutex.
type registry[T Entity[T]] struct {
	store *Store[T]

	mu       sync.Mutex
	list     atomic.Pointer[[]*syncListener[T]]
	buffered map[*bufferedListener[T]]struct{}
}

func newRegistry[T Entity[T]](s *Store[T]) *registry[T] {
	return &registry[T]{
		store:    s,
		buffered: make(map[*bufferedListener[T]]struct{}),
	}
}

// Subscribe registers fn to run synchronously on the writing goroutine for
// every accepted write and removal.
//
// fn runs while the key lock is held. It must be fast and must not write to
// the same key of this store; it should hand work off to another goroutine.
// A panic in fn is recovered and logged.
func (s *Store[T]) Subscribe(fn func(Event[T])) Subscription {
	l := s.listeners.add(fn)
	return subscriptionFunc(func() { s.listeners.remove(l) })
}

type subscriptionFunc func()

func (f subscriptionFunc) Close() { f() }

func (r *registry[T]) add(fn func(Event[T])) *syncListener[T] {
	l := &syncListener[T]{active: true, fn: fn}

	r.mu.Lock()
	defer r.mu.Unlock()

	var next []*syncListener[T]
	if cur := r.list.Load(); cur != nil {
		next = append(next, *cur...)
	}
	next = append(next, l)
	r.list.Store(&next)
	return l
}

func (r *registry[T]) remove(l *syncListener[T]) {
	// Waits for an in-flight delivery to this listener to finish.
	l.mu.Lock()
	l.active = false
	l.mu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.list.Load()
	if cur == nil {
		return
	}
	next := make([]*syncListener[T], 0, len(*cur))
	for _, x := range *cur {
		if x != l {
			next = append(next, x)
		}
	}
	r.list.Store(&next)
}

func (r *registry[T]) dispatch(kind EventKind, key int64, v T, ts time.Time) {
	cur := r.list.Load()
	if cur == nil {
		return
	}
	for _, l := range *cur {
		r.deliver(l, Event[T]{Kind: kind, Key: key, Value: v.Clone(), Time: ts})
	}
}

func (r *registry[T]) deliver(l *syncListener[T], ev Event[T]) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.active {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.store.metrics.panicked()
			r.store.logger.Error("cache listener panicked",
				"family", r.store.family, "key", ev.Key, "panic", rec)
		}
	}()
	l.fn(ev)
}

func (r *registry[T]) closeAll() {
	r.mu.Lock()
	buffered := make([]*bufferedListener[T], 0, len(r.buffered))
	for b := range r.buffered {
		buffered = append(buffered, b)
	}
	r.mu.Unlock()

	for _, b := range buffered {
		b.Close()
	}

	if cur := r.list.Load(); cur != nil {
		for _, l := range *cur {
			r.remove(l)
		}
	}
}

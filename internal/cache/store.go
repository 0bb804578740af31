package cache

import (
	"fmt"
	"slices"
	"sync"
	"time"
)

// Logger defines the logging interface used by the cache.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Entity is implemented by everything a Store can hold.
//
// Clone must return a deep copy: the store hands clones to callers and
// listeners and never shares its own copy. Equal decides whether a Compute
// changed anything.
type Entity[T any] interface {
	Key() int64
	Clone() T
	Equal(T) bool
}

// toucher is implemented by entities that record their acceptance time.
type toucher interface {
	Touch(time.Time)
}

// Store is a concurrent id → entity map for one entity family.
//
// Writers to the same key are serialised by a per-key mutex; writers to
// different keys proceed in parallel. The map itself is guarded by an
// RWMutex held only around the map access. Synchronous listeners run on the
// writing goroutine after the map write and before the key lock is
// released, so for one key they observe updates in acceptance order.
//
// Thread Safety: all methods are safe for concurrent use.
type Store[T Entity[T]] struct {
	family string

	mu    sync.RWMutex
	items map[int64]T

	locks     keyLocks
	policy    Policy[T]
	listeners *registry[T]
	metrics   *storeMetrics
	logger    Logger
	now       func() time.Time
}

// Option configures a Store.
type Option[T Entity[T]] func(*Store[T])

// WithPolicy sets the update flow policy applied by PutIfValid.
func WithPolicy[T Entity[T]](p Policy[T]) Option[T] {
	return func(s *Store[T]) { s.policy = p }
}

// WithMetrics binds the store to shared cache metrics.
func WithMetrics[T Entity[T]](m *Metrics) Option[T] {
	return func(s *Store[T]) {
		if m != nil {
			s.metrics = &storeMetrics{m: m, family: s.family}
		}
	}
}

// WithLogger sets the store logger.
func WithLogger[T Entity[T]](l Logger) Option[T] {
	return func(s *Store[T]) { s.logger = l }
}

// WithClock replaces time.Now for acceptance timestamps.
func WithClock[T Entity[T]](now func() time.Time) Option[T] {
	return func(s *Store[T]) { s.now = now }
}

// New creates an empty store for the named family.
func New[T Entity[T]](family string, opts ...Option[T]) *Store[T] {
	s := &Store[T]{
		family: family,
		items:  make(map[int64]T),
		policy: AlwaysAccept[T](),
		logger: noopLogger{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.listeners = newRegistry[T](s)
	return s
}

// Family returns the family name the store was created with.
func (s *Store[T]) Family() string {
	return s.family
}

// Get returns a snapshot of the entity stored under id.
// Returns ErrNotFound if absent.
func (s *Store[T]) Get(id int64) (T, error) {
	s.mu.RLock()
	v, ok := s.items[id]
	s.mu.RUnlock()
	if !ok {
		var zero T
		return zero, s.notFound(id)
	}
	return v.Clone(), nil
}

// Contains reports whether id is present.
func (s *Store[T]) Contains(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.items[id]
	return ok
}

// GetAll returns snapshots of every entity ordered by key.
func (s *Store[T]) GetAll() []T {
	s.mu.RLock()
	out := make([]T, 0, len(s.items))
	for _, v := range s.items {
		out = append(out, v.Clone())
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b T) int {
		switch {
		case a.Key() < b.Key():
			return -1
		case a.Key() > b.Key():
			return 1
		}
		return 0
	})
	return out
}

// Keys returns every key in ascending order.
func (s *Store[T]) Keys() []int64 {
	s.mu.RLock()
	keys := make([]int64, 0, len(s.items))
	for k := range s.items {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	slices.Sort(keys)
	return keys
}

// Len returns the number of entities.
func (s *Store[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Compute applies fn to a copy of the entity under id while holding the
// key lock.
//
// fn must not call back into the same key of this store. When fn returns an
// error nothing is written and the error is returned. When the result is
// Equal to the current entity nothing is written and no listener fires.
// Returns ErrNotFound without calling fn if id is absent.
//
// The returned entity is a snapshot of what is stored after the call.
func (s *Store[T]) Compute(id int64, fn func(T) (T, error)) (T, error) {
	var zero T

	unlock := s.locks.lock(id)
	defer unlock()

	current, ok := s.load(id)
	if !ok {
		return zero, s.notFound(id)
	}

	next, err := fn(current.Clone())
	if err != nil {
		return zero, err
	}
	if next.Key() != id {
		return zero, fmt.Errorf("%w: %s %d computed as %d", ErrKeyMismatch, s.family, id, next.Key())
	}
	if next.Equal(current) {
		s.metrics.update(OutcomeUnchanged)
		return current.Clone(), nil
	}

	stored, ts := s.store(id, next)
	s.metrics.update(OutcomeAccepted)
	s.listeners.dispatch(EventUpdated, id, stored, ts)
	return stored.Clone(), nil
}

// Put stores v under id unconditionally, bypassing the policy.
// It is used by the initial load and by administrative reconfiguration.
func (s *Store[T]) Put(id int64, v T) error {
	if v.Key() != id {
		return fmt.Errorf("%w: %s %d stored as %d", ErrKeyMismatch, s.family, v.Key(), id)
	}

	unlock := s.locks.lock(id)
	defer unlock()

	stored, ts := s.store(id, v.Clone())
	s.metrics.update(OutcomeAccepted)
	s.listeners.dispatch(EventUpdated, id, stored, ts)
	return nil
}

// PutIfValid replaces the entity under id with candidate if the store
// policy accepts it. A rejected candidate is discarded and reported as
// false with a nil error.
// Returns ErrNotFound if id is absent.
func (s *Store[T]) PutIfValid(id int64, candidate T) (bool, error) {
	return s.Submit(id, func(T) T { return candidate })
}

// Submit derives a candidate from a copy of the current entity while
// holding the key lock and stores it if the policy accepts it.
// Use it when the candidate depends on the current state, so that no write
// can slip in between reading the current entity and the policy check.
func (s *Store[T]) Submit(id int64, derive func(current T) T) (bool, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	current, ok := s.load(id)
	if !ok {
		return false, s.notFound(id)
	}
	candidate := derive(current.Clone())
	if candidate.Key() != id {
		return false, fmt.Errorf("%w: %s %d submitted as %d", ErrKeyMismatch, s.family, candidate.Key(), id)
	}
	if !s.policy.Accept(current, candidate) {
		s.metrics.update(OutcomeRejected)
		return false, nil
	}

	stored, ts := s.store(id, candidate.Clone())
	s.metrics.update(OutcomeAccepted)
	s.listeners.dispatch(EventUpdated, id, stored, ts)
	return true, nil
}

// Remove deletes id and notifies listeners with the removed entity.
// Returns ErrNotFound if absent.
func (s *Store[T]) Remove(id int64) error {
	unlock := s.locks.lock(id)
	defer unlock()

	s.mu.Lock()
	v, ok := s.items[id]
	if ok {
		delete(s.items, id)
	}
	n := len(s.items)
	s.mu.Unlock()

	if !ok {
		return s.notFound(id)
	}
	s.metrics.size(n)
	s.listeners.dispatch(EventRemoved, id, v, s.now())
	return nil
}

// Close stops every buffered listener after delivering what it holds.
// Synchronous listeners are detached. Writes remain possible.
func (s *Store[T]) Close() {
	s.listeners.closeAll()
}

func (s *Store[T]) load(id int64) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[id]
	return v, ok
}

// store writes v, stamping it with the acceptance time first.
func (s *Store[T]) store(id int64, v T) (T, time.Time) {
	ts := s.now()
	if t, ok := any(v).(toucher); ok {
		t.Touch(ts)
	}
	s.mu.Lock()
	s.items[id] = v
	n := len(s.items)
	s.mu.Unlock()
	s.metrics.size(n)
	return v, ts
}

func (s *Store[T]) notFound(id int64) error {
	return fmt.Errorf("%w: %s %d", ErrNotFound, s.family, id)
}

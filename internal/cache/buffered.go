package cache

import (
	"sync"
	"time"
)

// BufferOptions tunes a buffered listener.
//
// Events are collected for a window that starts at MinDelay. After each
// batch the window doubles if the batch held at least GrowThreshold raw
// events, up to MaxDelay, and halves otherwise, down to MinDelay. The queue
// between the writer and the listener goroutine holds QueueSize events;
// when it is full new events are dropped and counted.
type BufferOptions struct {
	Name          string
	MinDelay      time.Duration
	MaxDelay      time.Duration
	GrowThreshold int
	QueueSize     int
}

// Default buffered listener settings.
const (
	DefaultMinDelay      = 50 * time.Millisecond
	DefaultMaxDelay      = time.Second
	DefaultGrowThreshold = 100
	DefaultQueueSize     = 10000
)

func (o BufferOptions) withDefaults() BufferOptions {
	if o.Name == "" {
		o.Name = "buffered"
	}
	if o.MinDelay <= 0 {
		o.MinDelay = DefaultMinDelay
	}
	if o.MaxDelay < o.MinDelay {
		o.MaxDelay = max(DefaultMaxDelay, o.MinDelay)
	}
	if o.GrowThreshold <= 0 {
		o.GrowThreshold = DefaultGrowThreshold
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	return o
}

type bufferedListener[T Entity[T]] struct {
	reg      *registry[T]
	listener *syncListener[T]
	fn       func([]Event[T])
	opts     BufferOptions

	queue chan Event[T]
	stop  chan struct{}
	done  chan struct{}
	once  sync.Once
}

// SubscribeBuffered registers fn to receive coalesced batches of events on
// a dedicated goroutine.
//
// Within one batch only the latest event per key is kept, in the position
// the key was first seen. The writing goroutine never blocks on fn. Close
// delivers whatever is still queued before returning.
func (s *Store[T]) SubscribeBuffered(fn func([]Event[T]), opts BufferOptions) Subscription {
	b := &bufferedListener[T]{
		reg:  s.listeners,
		fn:   fn,
		opts: opts.withDefaults(),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	b.queue = make(chan Event[T], b.opts.QueueSize)
	b.listener = s.listeners.add(b.enqueue)

	s.listeners.mu.Lock()
	s.listeners.buffered[b] = struct{}{}
	s.listeners.mu.Unlock()

	go b.run()
	return b
}

func (b *bufferedListener[T]) enqueue(ev Event[T]) {
	select {
	case b.queue <- ev:
	default:
		b.reg.store.metrics.dropped(b.opts.Name)
		b.reg.store.logger.Debug("buffered listener queue full, event dropped",
			"family", b.reg.store.family, "listener", b.opts.Name, "key", ev.Key)
	}
}

// Close detaches the listener, flushes the queue and stops the goroutine.
func (b *bufferedListener[T]) Close() {
	b.once.Do(func() {
		b.reg.remove(b.listener)

		b.reg.mu.Lock()
		delete(b.reg.buffered, b)
		b.reg.mu.Unlock()

		close(b.stop)
		<-b.done
	})
}

func (b *bufferedListener[T]) run() {
	defer close(b.done)

	window := b.opts.MinDelay
	for {
		var first Event[T]
		select {
		case first = <-b.queue:
		case <-b.stop:
			b.flush(newBatch[T]())
			return
		}

		batch := newBatch[T]()
		batch.add(first)
		stopped := b.collect(batch, window)
		b.deliver(batch)
		if stopped {
			b.flush(newBatch[T]())
			return
		}
		window = b.nextWindow(window, batch.raw)
	}
}

// collect gathers events until the window elapses or the listener stops.
func (b *bufferedListener[T]) collect(batch *batch[T], window time.Duration) (stopped bool) {
	timer := time.NewTimer(window)
	defer timer.Stop()
	for {
		select {
		case ev := <-b.queue:
			batch.add(ev)
		case <-timer.C:
			return false
		case <-b.stop:
			return true
		}
	}
}

// flush delivers everything left in the queue. The queue no longer grows
// since the listener has been detached.
func (b *bufferedListener[T]) flush(batch *batch[T]) {
	for {
		select {
		case ev := <-b.queue:
			batch.add(ev)
		default:
			if batch.raw > 0 {
				b.deliver(batch)
			}
			return
		}
	}
}

func (b *bufferedListener[T]) nextWindow(window time.Duration, raw int) time.Duration {
	if raw >= b.opts.GrowThreshold {
		return min(window*2, b.opts.MaxDelay)
	}
	return max(window/2, b.opts.MinDelay)
}

func (b *bufferedListener[T]) deliver(batch *batch[T]) {
	store := b.reg.store
	store.metrics.batch(b.opts.Name, len(batch.events))
	defer func() {
		if rec := recover(); rec != nil {
			store.metrics.panicked()
			store.logger.Error("buffered cache listener panicked",
				"family", store.family, "listener", b.opts.Name, "panic", rec)
		}
	}()
	b.fn(batch.events)
}

type batch[T any] struct {
	events []Event[T]
	index  map[int64]int
	raw    int
}

func newBatch[T any]() *batch[T] {
	return &batch[T]{index: make(map[int64]int)}
}

func (b *batch[T]) add(ev Event[T]) {
	b.raw++
	if i, ok := b.index[ev.Key]; ok {
		b.events[i] = ev
		return
	}
	b.index[ev.Key] = len(b.events)
	b.events = append(b.events, ev)
}

package supervision

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Sweeper runs a sweep function on a fixed interval. A tick that arrives
// while the previous sweep is still running is skipped.
type Sweeper struct {
	interval time.Duration
	sweep    func()
	skipped  func()

	running atomic.Bool

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewSweeper creates a sweeper. skipped may be nil.
func NewSweeper(interval time.Duration, sweep func(), skipped func()) *Sweeper {
	if skipped == nil {
		skipped = func() {}
	}
	return &Sweeper{
		interval: interval,
		sweep:    sweep,
		skipped:  skipped,
		done:     make(chan struct{}),
	}
}

// Start launches the ticker goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop halts the ticker and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
}

// Tick starts one sweep in the background unless one is running.
// It reports whether a sweep was started.
func (s *Sweeper) Tick() bool {
	if !s.running.CompareAndSwap(false, true) {
		s.skipped()
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		s.sweep()
	}()
	return true
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

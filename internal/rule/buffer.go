package rule

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Default debounce settings.
const (
	DefaultTick      = 75 * time.Millisecond
	DefaultMaxCycles = 6
)

// Request asks for one rule to be re-evaluated. Depth counts the rule
// evaluations in the chain that produced the request.
type Request struct {
	RuleID int64
	Depth  int
}

type pending struct {
	depth   int
	cycles  int
	touched bool
}

// Buffer debounces evaluation requests per rule id.
//
// A request for a rule already pending replaces it and keeps the larger
// depth. On every tick each pending rule is flushed if nothing new arrived
// for it since the previous tick, or if it has been pending for MaxCycles
// ticks. A rule under continuous updates is therefore evaluated at least
// once every Tick × MaxCycles.
//
// Thread Safety: Add may be called from any goroutine.
type Buffer struct {
	tick      time.Duration
	maxCycles int
	flush     func([]Request)
	collapsed func()

	mu      sync.Mutex
	pending map[int64]*pending

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewBuffer creates a buffer that hands flushed requests to flush.
// Non-positive tick and maxCycles select the defaults.
func NewBuffer(tick time.Duration, maxCycles int, flush func([]Request)) *Buffer {
	if tick <= 0 {
		tick = DefaultTick
	}
	if maxCycles <= 0 {
		maxCycles = DefaultMaxCycles
	}
	return &Buffer{
		tick:      tick,
		maxCycles: maxCycles,
		flush:     flush,
		collapsed: func() {},
		pending:   make(map[int64]*pending),
		done:      make(chan struct{}),
	}
}

// Add schedules a rule. It never blocks on evaluation.
func (b *Buffer) Add(ruleID int64, depth int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if p, ok := b.pending[ruleID]; ok {
		p.touched = true
		p.depth = max(p.depth, depth)
		b.collapsed()
		return
	}
	b.pending[ruleID] = &pending{depth: depth}
}

// Pending returns the number of rules waiting for a flush.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Start runs the ticker until ctx is cancelled or Stop is called.
func (b *Buffer) Start(ctx context.Context) {
	b.wg.Add(1)
	go b.loop(ctx)
}

// Stop halts the ticker and flushes every pending rule once.
// Safe to call multiple times.
func (b *Buffer) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.wg.Wait()

		b.mu.Lock()
		out := make([]Request, 0, len(b.pending))
		for id, p := range b.pending {
			out = append(out, Request{RuleID: id, Depth: p.depth})
		}
		clear(b.pending)
		b.mu.Unlock()

		if len(out) > 0 {
			sortRequests(out)
			b.flush(out)
		}
	})
}

func (b *Buffer) loop(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case <-ticker.C:
			if ready := b.drain(); len(ready) > 0 {
				b.flush(ready)
			}
		}
	}
}

// drain advances every pending rule by one cycle and removes those due.
func (b *Buffer) drain() []Request {
	b.mu.Lock()
	defer b.mu.Unlock()

	var ready []Request
	for id, p := range b.pending {
		p.cycles++
		if !p.touched || p.cycles >= b.maxCycles {
			ready = append(ready, Request{RuleID: id, Depth: p.depth})
			delete(b.pending, id)
			continue
		}
		p.touched = false
	}
	sortRequests(ready)
	return ready
}

func sortRequests(rs []Request) {
	slices.SortFunc(rs, func(a, b Request) int {
		switch {
		case a.RuleID < b.RuleID:
			return -1
		case a.RuleID > b.RuleID:
			return 1
		}
		return 0
	})
}

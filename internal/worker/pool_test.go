package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type testWork struct {
	id    int
	delay time.Duration
	fail  bool
}

func noop(context.Context, testWork) error { return nil }

func TestNewPool_Defaults(t *testing.T) {
	p := NewPool(0, 0, noop)
	if p.workers != DefaultWorkers {
		t.Errorf("workers = %d, want %d", p.workers, DefaultWorkers)
	}
	if p.queueSize != DefaultQueueSize {
		t.Errorf("queueSize = %d, want %d", p.queueSize, DefaultQueueSize)
	}
}

func TestNewPool_NilProcessor(t *testing.T) {
	defer func() {
		if r := recover(); r != ErrNilProcessor {
			t.Errorf("recover() = %v, want ErrNilProcessor", r)
		}
	}()
	NewPool[testWork](1, 1, nil)
}

func TestPool_Lifecycle(t *testing.T) {
	var processed atomic.Int64
	p := NewPool(2, 10, func(_ context.Context, _ testWork) error {
		processed.Add(1)
		return nil
	})

	if err := p.Submit(testWork{}); !errors.Is(err, ErrPoolNotStarted) {
		t.Fatalf("Submit() before Start error = %v, want ErrPoolNotStarted", err)
	}

	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := p.Start(ctx); !errors.Is(err, ErrPoolAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrPoolAlreadyStarted", err)
	}

	for i := 0; i < 5; i++ {
		if err := p.Submit(testWork{id: i}); err != nil {
			t.Fatalf("Submit(%d) error = %v", i, err)
		}
	}

	// Stop drains what is already queued.
	if err := p.Stop(5 * time.Second); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if got := processed.Load(); got != 5 {
		t.Errorf("processed = %d, want 5", got)
	}
	if err := p.Submit(testWork{}); !errors.Is(err, ErrPoolStopped) {
		t.Errorf("Submit() after Stop error = %v, want ErrPoolStopped", err)
	}
	if err := p.Stop(time.Second); err != nil {
		t.Errorf("second Stop() error = %v, want nil", err)
	}
}

func TestPool_QueueFullDrops(t *testing.T) {
	release := make(chan struct{})
	p := NewPool(1, 2, func(_ context.Context, _ testWork) error {
		<-release
		return nil
	})
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	var dropped int
	for i := 0; i < 10; i++ {
		if err := p.Submit(testWork{id: i}); errors.Is(err, ErrQueueFull) {
			dropped++
		}
	}
	close(release)
	_ = p.Stop(5 * time.Second)

	// One item in flight plus two queued can be accepted at most.
	if dropped < 7 {
		t.Errorf("dropped = %d, want at least 7", dropped)
	}
	if got := p.Stats().Dropped; got != int64(dropped) {
		t.Errorf("Stats().Dropped = %d, want %d", got, dropped)
	}
}

func TestPool_CountsFailures(t *testing.T) {
	p := NewPool(2, 10, func(_ context.Context, w testWork) error {
		if w.fail {
			return errors.New("simulated")
		}
		return nil
	})
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	for i := 0; i < 10; i++ {
		_ = p.Submit(testWork{id: i, fail: i%2 == 0})
	}
	_ = p.Stop(5 * time.Second)

	stats := p.Stats()
	if stats.Processed != 10 {
		t.Errorf("Processed = %d, want 10", stats.Processed)
	}
	if stats.Failed != 5 {
		t.Errorf("Failed = %d, want 5", stats.Failed)
	}
}

func TestPool_ConcurrentSubmissions(t *testing.T) {
	var processed atomic.Int64
	p := NewPool(4, 200, func(_ context.Context, _ testWork) error {
		processed.Add(1)
		return nil
	})
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	var wg sync.WaitGroup
	for s := 0; s < 10; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if err := p.Submit(testWork{id: s*10 + j}); err != nil {
					t.Errorf("Submit() error = %v", err)
				}
			}
		}(s)
	}
	wg.Wait()
	_ = p.Stop(5 * time.Second)

	if got := processed.Load(); got != 100 {
		t.Errorf("processed = %d, want 100", got)
	}
}

func TestPool_StopTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	p := NewPool(1, 1, func(_ context.Context, _ testWork) error {
		<-block
		return nil
	})
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	_ = p.Submit(testWork{})
	time.Sleep(20 * time.Millisecond)

	if err := p.Stop(50 * time.Millisecond); !errors.Is(err, ErrStopTimeout) {
		t.Errorf("Stop() error = %v, want ErrStopTimeout", err)
	}
}

func TestPool_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPool(1, 4, noop, WithMetrics[testWork](reg, "rules"))
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	for i := 0; i < 3; i++ {
		_ = p.Submit(testWork{id: i})
	}
	_ = p.Stop(5 * time.Second)

	if got := testutil.ToFloat64(p.metrics.submitted); got != 3 {
		t.Errorf("submitted_total = %v, want 3", got)
	}
	if got := testutil.ToFloat64(p.metrics.processed); got != 3 {
		t.Errorf("processed_total = %v, want 3", got)
	}
	if n := testutil.CollectAndCount(reg, "graymon_pool_submitted_total"); n != 1 {
		t.Errorf("graymon_pool_submitted_total series = %d, want 1", n)
	}
}

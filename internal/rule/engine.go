package rule

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/gray-logic-monitor/internal/cache"
	"github.com/nerrad567/gray-logic-monitor/internal/tag"
	"github.com/nerrad567/gray-logic-monitor/internal/worker"
)

// Default engine limits.
const (
	DefaultMaxDepth    = 16
	DefaultTimeout     = 250 * time.Millisecond
	DefaultWorkers     = 4
	DefaultQueueSize   = 4096
	defaultStopTimeout = 5 * time.Second
)

// Logger defines the logging interface used by the engine.
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

// Config holds engine tuning. Zero values select the defaults.
type Config struct {
	Tick      time.Duration
	MaxCycles int
	MaxDepth  int
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Tick <= 0 {
		c.Tick = DefaultTick
	}
	if c.MaxCycles <= 0 {
		c.MaxCycles = DefaultMaxCycles
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = DefaultMaxDepth
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Engine keeps every rule tag consistent with the tags it reads.
//
// Flow:
//
//	tag accepted ──▶ listener ──▶ Index.Dependents ──▶ Buffer.Add(rule, depth+1)
//	                                                        │ tick
//	                                                        ▼
//	      tags.Compute(rule) ◀── evaluate ◀── worker.Pool ◀─┘
//	              │
//	              └──▶ listener (rules reading this rule, depth+1)
//
// Thread Safety: all exported methods are safe for concurrent use.
type Engine struct {
	tags     *cache.Store[*tag.Tag]
	index    *Index
	buffer   *Buffer
	pool     *worker.Pool[Request]
	compiler Compiler
	cfg      Config
	logger   Logger
	metrics  *engineMetrics
	reg      prometheus.Registerer
	now      func() time.Time

	progMu   sync.Mutex
	programs map[int64]program

	// inflight holds rules queued or running in the pool. A rule is never
	// handed to a second worker before the first has written its result.
	inflightMu sync.Mutex
	inflight   map[int64]struct{}

	// depths carries the chain depth of a rule result from the worker that
	// writes it to the listener that fans it out. Both run under the key lock.
	depths sync.Map

	sub      cache.Subscription
	stopOnce sync.Once
}

type program struct {
	text string
	expr Expression
	err  error
}

// Option configures an Engine.
type Option func(*Engine)

// WithCompiler replaces the default goja compiler.
func WithCompiler(c Compiler) Option {
	return func(e *Engine) { e.compiler = c }
}

// WithLogger sets the engine logger.
func WithLogger(l Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock replaces time.Now for rules whose inputs carry no timestamp.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRegisterer registers engine and pool metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(e *Engine) { e.reg = reg }
}

// NewEngine creates an engine over the tag store.
func NewEngine(tags *cache.Store[*tag.Tag], cfg Config, opts ...Option) *Engine {
	e := &Engine{
		tags:     tags,
		index:    NewIndex(),
		compiler: GojaCompiler{},
		cfg:      cfg.withDefaults(),
		logger:   noopLogger{},
		now:      time.Now,
		programs: make(map[int64]program),
		inflight: make(map[int64]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.metrics = newEngineMetrics(e.reg)

	e.buffer = NewBuffer(e.cfg.Tick, e.cfg.MaxCycles, e.dispatch)
	e.buffer.collapsed = e.metrics.collapsed.Inc

	poolOpts := []worker.Option[Request]{}
	if e.reg != nil {
		poolOpts = append(poolOpts, worker.WithMetrics[Request](e.reg, "rule"))
	}
	e.pool = worker.NewPool(e.cfg.Workers, e.cfg.QueueSize, e.evaluate, poolOpts...)
	return e
}

// Index returns the reverse dependency index.
func (e *Engine) Index() *Index {
	return e.index
}

// Start indexes every rule in the tag store, subscribes to tag updates and
// schedules an initial evaluation of every rule.
func (e *Engine) Start(ctx context.Context) error {
	var rules []int64
	for _, t := range e.tags.GetAll() {
		if t.IsRule() {
			e.index.Add(t)
			rules = append(rules, t.ID)
		}
	}

	if err := e.pool.Start(ctx); err != nil {
		return fmt.Errorf("starting rule workers: %w", err)
	}
	e.sub = e.tags.Subscribe(e.onTagEvent)
	e.buffer.Start(ctx)

	for _, id := range rules {
		e.buffer.Add(id, 0)
	}
	e.logger.Info("rule engine started", "rules", len(rules), "workers", e.cfg.Workers)
	return nil
}

// Stop detaches from the tag store, flushes pending requests and waits for
// the workers to drain. Safe to call multiple times.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		if e.sub != nil {
			e.sub.Close()
		}
		e.buffer.Stop()
		if err := e.pool.Stop(defaultStopTimeout); err != nil {
			e.logger.Warn("rule workers did not stop in time", "error", err)
		}
	})
}

// Trigger schedules a rule for evaluation outside of any update chain.
func (e *Engine) Trigger(ruleID int64) {
	e.buffer.Add(ruleID, 0)
}

// onTagEvent runs synchronously under the key lock of the written tag.
// It only touches the index and the debounce buffer.
func (e *Engine) onTagEvent(ev cache.Event[*tag.Tag]) {
	depth := 0
	if d, ok := e.depths.LoadAndDelete(ev.Key); ok {
		depth = d.(int)
	}

	if ev.Value != nil && ev.Value.IsRule() {
		switch ev.Kind {
		case cache.EventRemoved:
			e.index.Remove(ev.Key)
			e.forgetProgram(ev.Key)
		case cache.EventUpdated:
			e.reindex(ev.Value)
		}
	}

	for _, r := range e.index.Dependents(ev.Key) {
		e.buffer.Add(r, depth+1)
	}
}

// reindex picks up rule definitions written with Put.
func (e *Engine) reindex(r *tag.Tag) {
	inputs, ok := e.index.Inputs(r.ID)
	if !ok || !slices.Equal(inputs, r.RuleInputs) {
		e.index.Add(r)
		e.buffer.Add(r.ID, 0)
		return
	}

	e.progMu.Lock()
	p, cached := e.programs[r.ID]
	e.progMu.Unlock()
	if cached && p.text != r.RuleText {
		e.buffer.Add(r.ID, 0)
	}
}

// dispatch hands flushed requests to the worker pool. A rule still being
// evaluated, or a full queue, puts the request back into the buffer for the
// next tick.
func (e *Engine) dispatch(reqs []Request) {
	for _, req := range reqs {
		if !e.claim(req.RuleID) {
			e.buffer.Add(req.RuleID, req.Depth)
			continue
		}
		err := e.pool.Submit(req)
		if err == nil {
			continue
		}
		e.release(req.RuleID)
		if errors.Is(err, worker.ErrQueueFull) {
			e.metrics.dropped.Inc()
			e.buffer.Add(req.RuleID, req.Depth)
			continue
		}
		e.logger.Debug("rule request discarded", "rule_id", req.RuleID, "error", err)
	}
}

func (e *Engine) claim(ruleID int64) bool {
	e.inflightMu.Lock()
	defer e.inflightMu.Unlock()
	if _, busy := e.inflight[ruleID]; busy {
		return false
	}
	e.inflight[ruleID] = struct{}{}
	return true
}

func (e *Engine) release(ruleID int64) {
	e.inflightMu.Lock()
	delete(e.inflight, ruleID)
	e.inflightMu.Unlock()
}

// evaluate is the worker pool processor.
func (e *Engine) evaluate(ctx context.Context, req Request) error {
	defer e.release(req.RuleID)

	if req.Depth > e.cfg.MaxDepth {
		e.metrics.depthExceeded.Inc()
		e.logger.Warn("rule evaluation depth exceeded, branch aborted",
			"rule_id", req.RuleID, "depth", req.Depth, "max_depth", e.cfg.MaxDepth)
		return fmt.Errorf("%w: rule %d at depth %d", ErrDepthExceeded, req.RuleID, req.Depth)
	}

	r, err := e.tags.Get(req.RuleID)
	if err != nil {
		// Removed by a concurrent reconfiguration.
		e.logger.Debug("rule no longer cached", "rule_id", req.RuleID)
		return nil
	}
	if !r.IsRule() {
		return fmt.Errorf("%w: tag %d", ErrNotRule, r.ID)
	}

	start := time.Now()
	res := e.compute(ctx, r)
	e.metrics.duration.Observe(time.Since(start).Seconds())
	e.metrics.evaluations.WithLabelValues(res.outcome).Inc()

	_, err = e.tags.Compute(r.ID, func(cur *tag.Tag) (*tag.Tag, error) {
		if !cur.IsRule() {
			return nil, fmt.Errorf("%w: tag %d", ErrNotRule, cur.ID)
		}
		res.apply(cur)
		e.depths.Store(cur.ID, req.Depth)
		return cur, nil
	})
	if err != nil && !errors.Is(err, cache.ErrNotFound) {
		e.logger.Error("writing rule result failed", "rule_id", r.ID, "error", err)
		return err
	}
	if res.err != nil {
		e.logger.Debug("rule evaluation failed", "rule_id", r.ID, "error", res.err)
	}
	return res.err
}

type result struct {
	value    any
	hasValue bool
	quality  tag.Quality
	ts       time.Time
	outcome  string
	err      error
}

// apply writes the result onto the cached rule tag. The previous value is
// kept when nothing could be computed; the quality says why.
func (r *result) apply(t *tag.Tag) {
	if r.hasValue {
		t.Value = r.value
	}
	q := r.quality.Clone()
	for _, s := range []tag.QualityStatus{tag.StatusProcessDown, tag.StatusEquipmentDown, tag.StatusSubEquipmentDown} {
		if d, ok := t.Quality[s]; ok {
			q.Add(s, d)
		}
	}
	t.Quality = q
	t.SourceTimestamp = r.ts
	t.DAQTimestamp = r.ts
}

// compute reads a consistent set of inputs and evaluates the rule.
func (e *Engine) compute(ctx context.Context, r *tag.Tag) *result {
	res := &result{outcome: outcomeOK}
	inputs := make(map[int64]Input, len(r.RuleInputs))
	blocked := false

	for _, id := range r.RuleInputs {
		in, err := e.tags.Get(id)
		if err != nil {
			blocked = true
			res.err = fmt.Errorf("%w: tag %d", ErrMissingInput, id)
			addReason(&res.quality, tag.StatusUnknown, "configuration inconsistency: "+res.err.Error())
			continue
		}
		if ts := in.Timestamp(); ts.After(res.ts) {
			res.ts = ts
		}
		if !in.HasValue() {
			blocked = true
			addReason(&res.quality, tag.StatusUninitialised, fmt.Sprintf("input %d has no value", id))
			continue
		}
		if !in.Quality.IsValid() {
			addReason(&res.quality, tag.StatusUnknownReason, fmt.Sprintf("input %d invalid (%s)", id, in.Quality))
		}
		inputs[id] = Input{Value: in.Value, Valid: in.Quality.IsValid(), Timestamp: in.Timestamp()}
	}
	if res.ts.IsZero() {
		res.ts = e.now()
	}

	switch {
	case res.quality.Has(tag.StatusUnknown):
		res.outcome = outcomeFailed
		return res
	case blocked:
		res.outcome = outcomeUninitialised
		return res
	}

	v, err := e.run(ctx, r, inputs)
	if err == nil {
		v, err = tag.Coerce(r.DataType, v)
	}
	if err != nil {
		res.err = err
		res.outcome = outcomeFailed
		if errors.Is(err, ErrTimeout) {
			res.outcome = outcomeTimeout
		}
		addReason(&res.quality, tag.StatusUnknown, err.Error())
		return res
	}

	res.value, res.hasValue = v, true
	if !res.quality.IsValid() {
		res.outcome = outcomeInvalidInput
	}
	return res
}

func (e *Engine) run(ctx context.Context, r *tag.Tag, inputs map[int64]Input) (any, error) {
	expr, err := e.program(r)
	if err != nil {
		return nil, err
	}
	ectx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	v, err := expr.Evaluate(ectx, inputs)
	if err != nil && ectx.Err() == context.DeadlineExceeded && !errors.Is(err, ErrTimeout) {
		err = fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return v, err
}

// program returns the compiled expression of r, compiling on first use and
// whenever the rule text changed.
func (e *Engine) program(r *tag.Tag) (Expression, error) {
	e.progMu.Lock()
	defer e.progMu.Unlock()

	if p, ok := e.programs[r.ID]; ok && p.text == r.RuleText {
		return p.expr, p.err
	}
	expr, err := e.compiler.Compile(r.RuleText)
	e.programs[r.ID] = program{text: r.RuleText, expr: expr, err: err}
	if err != nil {
		e.logger.Warn("rule does not compile", "rule_id", r.ID, "error", err)
	}
	return expr, err
}

func (e *Engine) forgetProgram(id int64) {
	e.progMu.Lock()
	delete(e.programs, id)
	e.progMu.Unlock()
}

// addReason sets a quality flag, appending to the description if the flag
// is already present.
func addReason(q *tag.Quality, s tag.QualityStatus, desc string) {
	if prev, ok := (*q)[s]; ok && prev != "" && !strings.Contains(prev, desc) {
		desc = prev + "; " + desc
	}
	q.Add(s, desc)
}

package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-monitor/internal/cache"
	"github.com/nerrad567/gray-logic-monitor/internal/command"
	"github.com/nerrad567/gray-logic-monitor/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-monitor/internal/rule"
	"github.com/nerrad567/gray-logic-monitor/internal/supervision"
	"github.com/nerrad567/gray-logic-monitor/internal/tag"
)

// Submission outcomes recorded in graymon_monitor_submissions_total.
const (
	outcomeAccepted = "accepted"
	outcomeRejected = "rejected"
	outcomeUnknown  = "unknown_tag"
	outcomeRefused  = "refused"
)

// Logger defines the logging interface used by the monitor and handed down
// to every component it builds.
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

// SourceValue is one raw reading reported by an acquisition collaborator.
type SourceValue struct {
	TagID            int64       `json:"tag_id"`
	Value            any         `json:"value"`
	ValueDescription string      `json:"value_description,omitempty"`
	Quality          tag.Quality `json:"quality,omitempty"`
	SourceTimestamp  time.Time   `json:"source_timestamp"`
	DAQTimestamp     time.Time   `json:"daq_timestamp"`
}

// Loader supplies the configured entities at start-up.
type Loader interface {
	LoadTags(ctx context.Context) ([]*tag.Tag, error)
	LoadProcesses(ctx context.Context) ([]*supervision.Entity, error)
	LoadEquipment(ctx context.Context) ([]*supervision.Entity, error)
	LoadSubEquipment(ctx context.Context) ([]*supervision.Entity, error)
	LoadCommandTags(ctx context.Context) ([]*command.Tag, error)
}

// Config groups the settings of the components a Monitor builds.
type Config struct {
	Rules                rule.Config
	Supervision          supervision.Config
	CommandCheckInterval time.Duration
}

// Monitor owns the caches and the components operating on them.
//
// Thread Safety: all methods are safe for concurrent use once LoadAll has
// returned.
type Monitor struct {
	tags     *cache.Store[*tag.Tag]
	entities supervision.Stores
	commands *cache.Store[*command.Tag]

	rules       *rule.Engine
	supervision *supervision.Manager
	commandSvc  *command.Service

	logger      Logger
	now         func() time.Time
	submissions *prometheus.CounterVec

	started  atomic.Bool
	stopOnce sync.Once
}

type options struct {
	logger Logger
	reg    prometheus.Registerer
	now    func() time.Time
}

// Option configures a Monitor.
type Option func(*options)

// WithLogger sets the logger shared by every component.
func WithLogger(l Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRegisterer registers every component's metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.reg = reg }
}

// WithClock replaces time.Now in every component.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New builds the caches and components. Nothing runs until Start.
func New(cfg Config, opts ...Option) *Monitor {
	o := options{logger: noopLogger{}, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	var cm *cache.Metrics
	if o.reg != nil {
		cm = cache.NewMetrics(o.reg)
	}

	m := &Monitor{
		logger: o.logger,
		now:    o.now,
		tags: cache.New[*tag.Tag]("tag",
			cache.WithPolicy[*tag.Tag](tag.FlowPolicy{}),
			cache.WithMetrics[*tag.Tag](cm),
			cache.WithLogger[*tag.Tag](o.logger),
			cache.WithClock[*tag.Tag](o.now)),
		entities: supervision.NewStores(
			cache.WithMetrics[*supervision.Entity](cm),
			cache.WithLogger[*supervision.Entity](o.logger),
			cache.WithClock[*supervision.Entity](o.now)),
		commands: cache.New[*command.Tag]("command",
			cache.WithMetrics[*command.Tag](cm),
			cache.WithLogger[*command.Tag](o.logger),
			cache.WithClock[*command.Tag](o.now)),
		submissions: metrics.MustRegister(o.reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace, Subsystem: "monitor", Name: "submissions_total",
			Help: "Source values submitted by outcome",
		}, []string{"outcome"})),
	}

	m.rules = rule.NewEngine(m.tags, cfg.Rules,
		rule.WithLogger(o.logger),
		rule.WithClock(o.now),
		rule.WithRegisterer(o.reg))
	m.supervision = supervision.NewManager(m.tags, m.entities, cfg.Supervision,
		supervision.WithLogger(o.logger),
		supervision.WithClock(o.now),
		supervision.WithRegisterer(o.reg))
	m.commandSvc = command.NewService(m.commands,
		command.WithLogger(o.logger),
		command.WithClock(o.now),
		command.WithCheckInterval(cfg.CommandCheckInterval))
	return m
}

// Tags returns the tag store.
func (m *Monitor) Tags() *cache.Store[*tag.Tag] { return m.tags }

// Entities returns the supervised entity stores.
func (m *Monitor) Entities() supervision.Stores { return m.entities }

// Commands returns the command tag store.
func (m *Monitor) Commands() *cache.Store[*command.Tag] { return m.commands }

// Rules returns the rule engine.
func (m *Monitor) Rules() *rule.Engine { return m.rules }

// Supervision returns the supervision manager.
func (m *Monitor) Supervision() *supervision.Manager { return m.supervision }

// CommandService returns the command execution service.
func (m *Monitor) CommandService() *command.Service { return m.commandSvc }

// LoadAll seeds every store from loader. Families load concurrently.
//
// Definitions that fail validation are logged and skipped; a loader error
// aborts the load. Supervision links are repaired by Start, so families may
// arrive in any order. Must be called before Start.
func (m *Monitor) LoadAll(ctx context.Context, loader Loader) error {
	if m.started.Load() {
		return ErrAlreadyStarted
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		tags, err := loader.LoadTags(gctx)
		if err != nil {
			return fmt.Errorf("loading tags: %w", err)
		}
		return load(m, m.tags, tags, tag.Validate)
	})
	for _, f := range supervision.Families {
		store, err := m.entities.Of(f)
		if err != nil {
			return err
		}
		fetch := m.entityLoader(loader, f)
		g.Go(func() error {
			items, err := fetch(gctx)
			if err != nil {
				return fmt.Errorf("loading %s: %w", f, err)
			}
			return load(m, store, items, supervision.Validate)
		})
	}
	g.Go(func() error {
		cmds, err := loader.LoadCommandTags(gctx)
		if err != nil {
			return fmt.Errorf("loading command tags: %w", err)
		}
		return load(m, m.commands, cmds, command.Validate)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	m.logger.Info("configuration loaded",
		"tags", m.tags.Len(),
		"processes", m.entities.Processes.Len(),
		"equipment", m.entities.Equipment.Len(),
		"subequipment", m.entities.SubEquipment.Len(),
		"commands", m.commands.Len())
	return nil
}

func (m *Monitor) entityLoader(l Loader, f supervision.Family) func(context.Context) ([]*supervision.Entity, error) {
	switch f {
	case supervision.FamilyProcess:
		return l.LoadProcesses
	case supervision.FamilyEquipment:
		return l.LoadEquipment
	default:
		return l.LoadSubEquipment
	}
}

func load[T cache.Entity[T]](m *Monitor, store *cache.Store[T], items []T, validate func(T) error) error {
	for _, item := range items {
		if err := validate(item); err != nil {
			m.logger.Warn("skipping invalid definition", "family", store.Family(), "error", err)
			continue
		}
		if err := store.Put(item.Key(), item); err != nil {
			return fmt.Errorf("seeding %s %d: %w", store.Family(), item.Key(), err)
		}
	}
	return nil
}

// Start runs the supervision manager, the rule engine and the command
// service, in that order.
func (m *Monitor) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	if err := m.supervision.Start(ctx); err != nil {
		return fmt.Errorf("starting supervision: %w", err)
	}
	if err := m.rules.Start(ctx); err != nil {
		m.supervision.Stop()
		return fmt.Errorf("starting rule engine: %w", err)
	}
	m.commandSvc.Start(ctx)
	m.logger.Info("monitor started")
	return nil
}

// Stop halts every component and closes the stores, draining buffered
// listeners. Safe to call multiple times.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		m.commandSvc.Stop()
		m.rules.Stop()
		m.supervision.Stop()
		m.tags.Close()
		m.entities.Close()
		m.commands.Close()
		m.logger.Info("monitor stopped")
	})
}

// SubmitValue offers a source value to the tag cache.
//
// The candidate is derived from the cached tag and checked against the
// update flow policy under the tag's key lock. Returns false with a nil
// error when the policy rejects it. Returns cache.ErrNotFound for an
// unknown tag and ErrRuleTag for a rule tag.
func (m *Monitor) SubmitValue(ctx context.Context, v SourceValue) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	u := tag.Update{
		TagID:            v.TagID,
		Value:            v.Value,
		ValueDescription: v.ValueDescription,
		Quality:          v.Quality,
		SourceTimestamp:  v.SourceTimestamp,
		DAQTimestamp:     v.DAQTimestamp,
	}

	if cur, err := m.tags.Get(v.TagID); err == nil && cur.IsRule() {
		m.submissions.WithLabelValues(outcomeRefused).Inc()
		return false, fmt.Errorf("%w: tag %d", ErrRuleTag, v.TagID)
	}

	accepted, err := m.tags.Submit(v.TagID, func(cur *tag.Tag) *tag.Tag {
		return cur.Candidate(u)
	})
	switch {
	case errors.Is(err, cache.ErrNotFound):
		m.submissions.WithLabelValues(outcomeUnknown).Inc()
		m.logger.Debug("source value for unknown tag", "tag_id", v.TagID)
		return false, err
	case err != nil:
		return false, err
	case accepted:
		m.submissions.WithLabelValues(outcomeAccepted).Inc()
	default:
		m.submissions.WithLabelValues(outcomeRejected).Inc()
	}
	return accepted, nil
}

// PutTag creates or reconfigures a tag.
//
// When the tag exists with the same kind and data type its runtime state
// (value, quality, timestamps, alarms) is kept. A new tag without a value
// starts UNINITIALISED.
func (m *Monitor) PutTag(t *tag.Tag) error {
	if err := tag.Validate(t); err != nil {
		return err
	}
	if t.IsRule() {
		if _, loop := m.rules.Index().Cycle(t.ID, t.RuleInputs); loop {
			return fmt.Errorf("%w: rule %d", rule.ErrCycle, t.ID)
		}
	}
	next := t.Clone()
	if cur, err := m.tags.Get(t.ID); err == nil && cur.Kind == next.Kind && cur.DataType == next.DataType {
		next.Value = cur.Value
		next.ValueDescription = cur.ValueDescription
		next.Quality = cur.Quality
		next.SourceTimestamp = cur.SourceTimestamp
		next.DAQTimestamp = cur.DAQTimestamp
		next.AlarmIDs = cur.AlarmIDs
	} else if next.Value == nil && !next.Quality.Has(tag.StatusUninitialised) {
		next.Quality.Add(tag.StatusUninitialised, "never updated")
	}
	return m.tags.Put(next.ID, next)
}

// RemoveTag deletes a tag. A tag that rules read cannot be removed until
// those rules are changed or removed.
func (m *Monitor) RemoveTag(id int64) error {
	if deps := m.rules.Index().Dependents(id); len(deps) > 0 {
		return fmt.Errorf("%w: tag %d read by rules %v", ErrTagInUse, id, deps)
	}
	return m.tags.Remove(id)
}

// PutEntity creates or reconfigures a supervised entity.
func (m *Monitor) PutEntity(e *supervision.Entity) error {
	return m.supervision.Put(e)
}

// RemoveEntity deletes a supervised entity that has no children.
func (m *Monitor) RemoveEntity(f supervision.Family, id int64) error {
	return m.supervision.Remove(f, id)
}

// PutCommand creates or reconfigures a command tag, keeping its last report.
func (m *Monitor) PutCommand(c *command.Tag) error {
	if err := command.Validate(c); err != nil {
		return err
	}
	next := c.Clone()
	if cur, err := m.commands.Get(c.ID); err == nil {
		next.LastReport = cur.LastReport
	}
	return m.commands.Put(next.ID, next)
}

// RemoveCommand deletes a command tag.
func (m *Monitor) RemoveCommand(id int64) error {
	return m.commands.Remove(id)
}

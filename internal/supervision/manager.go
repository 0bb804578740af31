package supervision

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
)

// Default manager settings.
const (
	DefaultSweepInterval   = 5 * time.Second
	DefaultTolerance       = 2.0
	DefaultRejectFactor    = 2.0
	DefaultSignalQueueSize = 1024
)

// Logger defines the logging interface used by the manager.
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

// Config holds supervision tuning. Zero values select the defaults.
type Config struct {
	// SweepInterval is the period of the alive timer sweep.
	SweepInterval time.Duration

	// Tolerance multiplies the alive interval before a miss is declared.
	Tolerance float64

	// AliveRejectFactor multiplies the alive interval to give the age
	// beyond which an alive signal is ignored.
	AliveRejectFactor float64

	// SignalQueueSize bounds the queue between the tag store and the manager.
	SignalQueueSize int
}

func (c Config) withDefaults() Config {
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.Tolerance <= 0 {
		c.Tolerance = DefaultTolerance
	}
	if c.AliveRejectFactor <= 0 {
		c.AliveRejectFactor = DefaultRejectFactor
	}
	if c.SignalQueueSize <= 0 {
		c.SignalQueueSize = DefaultSignalQueueSize
	}
	return c
}

// Stores holds one cache store per family.
type Stores struct {
	Processes    *cache.Store[*Entity]
	Equipment    *cache.Store[*Entity]
	SubEquipment *cache.Store[*Entity]
}

// NewStores creates the three family stores with FlowPolicy.
func NewStores(opts ...cache.Option[*Entity]) Stores {
	mk := func(f Family) *cache.Store[*Entity] {
		o := append([]cache.Option[*Entity]{cache.WithPolicy[*Entity](FlowPolicy{})}, opts...)
		return cache.New[*Entity](string(f), o...)
	}
	return Stores{
		Processes:    mk(FamilyProcess),
		Equipment:    mk(FamilyEquipment),
		SubEquipment: mk(FamilySubEquipment),
	}
}

// Of returns the store of a family.
func (s Stores) Of(f Family) (*cache.Store[*Entity], error) {
	switch f {
	case FamilyProcess:
		return s.Processes, nil
	case FamilyEquipment:
		return s.Equipment, nil
	case FamilySubEquipment:
		return s.SubEquipment, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFamily, f)
}

// Close closes every store.
func (s Stores) Close() {
	for _, st := range []*cache.Store[*Entity]{s.Processes, s.Equipment, s.SubEquipment} {
		if st != nil {
			st.Close()
		}
	}
}

type signalKind int

const (
	signalAlive signalKind = iota + 1
	signalCommFault
	signalState
	signalAdopt
)

type signal struct {
	kind signalKind
	tag  *tag.Tag
}

// Manager derives the status of every supervised entity from its alive and
// comm-fault signals, the alive timer sweep, administrative start/stop and
// the status of its parent.
//
// Signals reach the manager from a synchronous tag store listener through a
// bounded queue; the listener never writes to a store. Transitions,
// cascades and the resulting tag writes are serialised by the manager.
//
// Thread Safety: all exported methods are safe for concurrent use.
type Manager struct {
	tags    *cache.Store[*tag.Tag]
	stores  Stores
	owned   *OwnedTags
	cfg     Config
	logger  Logger
	metrics *managerMetrics
	reg     prometheus.Registerer
	now     func() time.Time

	mu sync.Mutex

	signals chan signal
	sweeper *Sweeper
	sub     cache.Subscription

	done     chan struct{}
	exited   chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(l Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithRegisterer registers supervision metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(m *Manager) { m.reg = reg }
}

// NewManager creates a manager over the tag store and the family stores.
func NewManager(tags *cache.Store[*tag.Tag], stores Stores, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		tags:   tags,
		stores: stores,
		owned:  NewOwnedTags(),
		cfg:    cfg.withDefaults(),
		logger: noopLogger{},
		now:    time.Now,
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.metrics = newManagerMetrics(m.reg)
	m.signals = make(chan signal, m.cfg.SignalQueueSize)
	m.sweeper = NewSweeper(m.cfg.SweepInterval, func() { m.Sweep() }, m.metrics.sweepsSkipped.Inc)
	return m
}

// Stores returns the family stores.
func (m *Manager) Stores() Stores {
	return m.stores
}

// OwnedTags returns the tag ownership index.
func (m *Manager) OwnedTags() *OwnedTags {
	return m.owned
}

// Get returns a snapshot of one entity.
func (m *Manager) Get(f Family, id int64) (*Entity, error) {
	store, err := m.stores.Of(f)
	if err != nil {
		return nil, err
	}
	return store.Get(id)
}

// Start indexes tag ownership, repairs parent/child links, applies the
// status of entities loaded as down, subscribes to the tag store and
// starts the sweep.
func (m *Manager) Start(ctx context.Context) error {
	for _, t := range m.tags.GetAll() {
		m.owned.Set(t)
	}

	m.mu.Lock()
	err := m.relink()
	if err == nil {
		m.applyLoaded()
	}
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("linking supervision tree: %w", err)
	}

	m.sub = m.tags.Subscribe(m.onTagEvent)
	m.wg.Add(1)
	go m.run(ctx)
	m.sweeper.Start(ctx)

	m.logger.Info("supervision started",
		"processes", m.stores.Processes.Len(),
		"equipment", m.stores.Equipment.Len(),
		"subequipment", m.stores.SubEquipment.Len(),
		"sweep_interval", m.cfg.SweepInterval)
	return nil
}

// Stop halts the sweep and the signal loop. Safe to call multiple times.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
		if m.sub != nil {
			m.sub.Close()
		}
		m.sweeper.Stop()
		m.wg.Wait()
	})
}

func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()
	defer close(m.exited)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case s := <-m.signals:
			m.handle(s)
		}
	}
}

func (m *Manager) handle(s signal) {
	var err error
	switch s.kind {
	case signalAlive:
		err = m.OnAlive(s.tag)
	case signalCommFault:
		err = m.OnCommFault(s.tag)
	case signalState:
		err = m.OnState(s.tag)
	case signalAdopt:
		m.adopt(s.tag)
	}
	switch {
	case err == nil:
	case errors.Is(err, ErrAliveRejected):
		m.logger.Debug("alive signal rejected", "tag_id", s.tag.ID, "error", err)
	default:
		m.logger.Warn("supervision signal not applied", "tag_id", s.tag.ID, "error", err)
	}
}

// onTagEvent runs under the key lock of the written tag. Alive and
// comm-fault signals block until queued since the manager never writes
// those tags; the rarer state and ownership signals are dropped when the
// queue is full.
func (m *Manager) onTagEvent(ev cache.Event[*tag.Tag]) {
	if ev.Kind == cache.EventRemoved {
		m.owned.Remove(ev.Key)
		return
	}
	t := ev.Value
	if !t.IsControl() {
		if m.owned.Set(t) {
			m.offer(signal{kind: signalAdopt, tag: t})
		}
		return
	}

	switch t.Role {
	case tag.RoleAlive:
		m.enqueue(signal{kind: signalAlive, tag: t})
	case tag.RoleCommFault:
		m.enqueue(signal{kind: signalCommFault, tag: t})
	case tag.RoleState:
		if e, err := m.ownerOf(t); err == nil && e.StateTagID == t.ID && t.Value != string(e.Status) {
			m.offer(signal{kind: signalState, tag: t})
		}
	}
}

func (m *Manager) enqueue(s signal) {
	select {
	case m.signals <- s:
	case <-m.exited:
	}
}

func (m *Manager) offer(s signal) {
	select {
	case m.signals <- s:
	default:
		m.metrics.signalsDropped.Inc()
		m.logger.Warn("supervision signal queue full, signal dropped", "tag_id", s.tag.ID)
	}
}

func (m *Manager) ownerOf(t *tag.Tag) (*Entity, error) {
	level, id := t.Owner()
	if level == "" {
		return nil, fmt.Errorf("%w: tag %d has no owner", ErrSignalMismatch, t.ID)
	}
	return m.Get(Family(level), id)
}

// OnAlive applies an accepted alive signal to the entity owning t.
//
// The signal time is the earlier of the source and acquisition timestamps.
// A signal older than AliveRejectFactor × interval is ignored and
// ErrAliveRejected returned.
func (m *Manager) OnAlive(t *tag.Tag) error {
	ts := t.EarliestTimestamp()
	if ts.IsZero() {
		return nil
	}
	level, id := t.Owner()
	f := Family(level)

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	_, err := m.update(f, id, func(e *Entity) error {
		if e.AliveTagID != t.ID {
			return fmt.Errorf("%w: tag %d is not the alive tag of %s %d", ErrSignalMismatch, t.ID, f, id)
		}
		if e.Supervised() {
			if age := now.Sub(ts); age > time.Duration(float64(e.AliveInterval)*m.cfg.AliveRejectFactor) {
				m.metrics.aliveRejected.WithLabelValues(string(f)).Inc()
				return fmt.Errorf("%w: %s %d alive is %s old", ErrAliveRejected, f, id, age)
			}
		}
		if ts.After(e.LastAlive) {
			e.LastAlive = ts
		}
		if e.Status != StatusStopped && e.Status != StatusRunning && !e.CommFault && !e.ParentDown {
			setStatus(e, StatusRunning, ReasonAliveReceived, now)
		}
		return nil
	})
	return err
}

// OnCommFault applies an accepted comm-fault signal. The entity is faulty
// while the tag value equals its fault value.
func (m *Manager) OnCommFault(t *tag.Tag) error {
	if !t.HasValue() {
		return nil
	}
	faulty := t.IsFaulty()
	level, id := t.Owner()
	f := Family(level)

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	_, err := m.update(f, id, func(e *Entity) error {
		if e.CommFaultTagID != t.ID {
			return fmt.Errorf("%w: tag %d is not the comm-fault tag of %s %d", ErrSignalMismatch, t.ID, f, id)
		}
		e.CommFault = faulty
		switch {
		case e.Status == StatusStopped, e.ParentDown:
		case faulty:
			setStatus(e, StatusDown, ReasonCommFault, now)
		default:
			m.reassess(e, now, ReasonCommRestored)
		}
		return nil
	})
	return err
}

// OnState rewrites a state tag that no longer mirrors its owner's status.
func (m *Manager) OnState(t *tag.Tag) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.ownerOf(t)
	if err != nil {
		return err
	}
	if e.StateTagID != t.ID {
		return fmt.Errorf("%w: tag %d is not the state tag of %s %d", ErrSignalMismatch, t.ID, e.Family, e.ID)
	}
	m.writeStateTag(e)
	return nil
}

// Start administratively starts an entity. Starting an entity that is not
// stopped only advances its status time. A started entity is RUNNING if its
// alive is fresh or it has no alive timer, otherwise UNCERTAIN until the
// next signal.
func (m *Manager) Start(f Family, id int64, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if ts.IsZero() {
		ts = now
	}
	_, err := m.update(f, id, func(e *Entity) error {
		if e.Status != StatusStopped {
			if ts.After(e.StatusTime) {
				e.StatusTime = ts
			}
			return nil
		}
		switch {
		case e.ParentDown:
			setStatus(e, StatusDown, parentDownReason(f.Parent()), ts)
		case e.CommFault:
			setStatus(e, StatusDown, ReasonCommFault, ts)
		case e.AliveFresh(now, m.cfg.Tolerance):
			setStatus(e, StatusRunning, ReasonStarted, ts)
		default:
			setStatus(e, StatusUncertain, ReasonStarted, ts)
		}
		return nil
	})
	return err
}

// Stop administratively stops an entity. Stopping a stopped entity only
// advances its status time.
func (m *Manager) Stop(f Family, id int64, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ts.IsZero() {
		ts = m.now()
	}
	_, err := m.update(f, id, func(e *Entity) error {
		if e.Status == StatusStopped {
			if ts.After(e.StatusTime) {
				e.StatusTime = ts
			}
			return nil
		}
		setStatus(e, StatusStopped, ReasonStopped, ts)
		return nil
	})
	return err
}

// MarkUncertain puts a non-stopped entity into UNCERTAIN until its next
// alive or comm-fault signal.
func (m *Manager) MarkUncertain(f Family, id int64, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markUncertain(f, id, reason)
}

func (m *Manager) markUncertain(f Family, id int64, reason string) error {
	now := m.now()
	_, err := m.update(f, id, func(e *Entity) error {
		switch {
		case e.Status == StatusStopped:
		case e.ParentDown:
			setStatus(e, StatusDown, parentDownReason(f.Parent()), now)
		default:
			setStatus(e, StatusUncertain, reason, now)
		}
		return nil
	})
	return err
}

// Sweep moves every RUNNING entity whose alive timer expired to DOWN and
// returns how many it moved. The candidate set is a snapshot taken before
// any transition.
func (m *Manager) Sweep() int {
	start := time.Now()
	defer func() { m.metrics.sweepDuration.Observe(time.Since(start).Seconds()) }()

	now := m.now()
	type ref struct {
		family Family
		id     int64
	}
	var expired []ref
	for _, f := range Families {
		store, _ := m.stores.Of(f)
		for _, e := range store.GetAll() {
			if e.Status == StatusRunning && e.Supervised() && !e.AliveFresh(now, m.cfg.Tolerance) {
				expired = append(expired, ref{f, e.ID})
			}
		}
	}

	moved := 0
	for _, r := range expired {
		m.mu.Lock()
		tr, err := m.update(r.family, r.id, func(e *Entity) error {
			if e.Status == StatusRunning && !e.AliveFresh(now, m.cfg.Tolerance) {
				setStatus(e, StatusDown, ReasonAliveExpired, now)
			}
			return nil
		})
		m.mu.Unlock()
		if err == nil && tr.changed() {
			moved++
		}
	}
	if moved > 0 {
		m.logger.Info("alive sweep complete", "expired", moved, "duration", time.Since(start))
	}
	return moved
}

// Put adds or reconfigures an entity. Runtime state of an existing entity
// is kept and it becomes UNCERTAIN until its next signal.
func (m *Manager) Put(e *Entity) error {
	if err := Validate(e); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	store, _ := m.stores.Of(e.Family)
	var parent *Entity
	if pf := e.Family.Parent(); pf != "" {
		p, err := m.Get(pf, e.ParentID)
		if err != nil {
			return fmt.Errorf("%w: %s %d", ErrParentNotFound, pf, e.ParentID)
		}
		parent = p
	}

	c := e.Clone()
	prev, err := store.Get(e.ID)
	existed := err == nil
	if existed {
		c.Status, c.StatusReason, c.StatusTime = prev.Status, prev.StatusReason, prev.StatusTime
		c.LastAlive, c.CommFault, c.Children = prev.LastAlive, prev.CommFault, prev.Children
		if prev.ParentID != c.ParentID {
			m.unlink(prev)
		}
	} else {
		if c.Status == "" {
			c.Status = StatusUncertain
		}
		if c.StatusTime.IsZero() {
			c.StatusTime = m.now()
		}
		c.Children = nil
	}
	c.ParentDown = parent != nil && parent.Status.Down()

	if err := store.Put(c.ID, c); err != nil {
		return err
	}
	if parent != nil {
		m.link(c)
	}

	switch {
	case existed:
		return m.markUncertain(c.Family, c.ID, ReasonReconfigured)
	case c.ParentDown && !c.Status.Down():
		_, err := m.update(c.Family, c.ID, func(e *Entity) error {
			setStatus(e, StatusDown, parentDownReason(e.Family.Parent()), m.now())
			return nil
		})
		return err
	case c.Status.Down():
		m.flagOwned(c, true)
	}
	return nil
}

// Remove deletes an entity without children and clears the supervision
// flags it set on its tags.
func (m *Manager) Remove(f Family, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	store, err := m.stores.Of(f)
	if err != nil {
		return err
	}
	e, err := store.Get(id)
	if err != nil {
		return err
	}
	if len(e.Children) > 0 {
		return fmt.Errorf("%w: %s %d has %d", ErrHasChildren, f, id, len(e.Children))
	}
	if err := store.Remove(id); err != nil {
		return err
	}
	m.unlink(e)
	m.flagOwned(e, false)
	return nil
}

type transition struct {
	family        Family
	before, after *Entity
}

func (t *transition) changed() bool {
	return t != nil && t.before.Status != t.after.Status
}

// update applies fn to an entity through Compute and runs the side effects
// of a status change. Callers hold m.mu.
func (m *Manager) update(f Family, id int64, fn func(*Entity) error) (*transition, error) {
	store, err := m.stores.Of(f)
	if err != nil {
		return nil, err
	}
	var before *Entity
	after, err := store.Compute(id, func(e *Entity) (*Entity, error) {
		before = e.Clone()
		if err := fn(e); err != nil {
			return nil, err
		}
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	tr := &transition{family: f, before: before, after: after}
	if tr.changed() {
		m.transitioned(tr)
	}
	return tr, nil
}

// transitioned mirrors a status change to the state tag and owned tags,
// then cascades it to the children.
func (m *Manager) transitioned(tr *transition) {
	e := tr.after
	m.metrics.transitions.WithLabelValues(string(tr.family), string(e.Status)).Inc()
	m.logger.Info("supervision status changed",
		"family", tr.family, "id", e.ID, "name", e.Name,
		"from", tr.before.Status, "to", e.Status, "reason", e.StatusReason)

	m.writeStateTag(e)
	switch {
	case e.Status.Down():
		m.flagOwned(e, true)
	case e.Status == StatusRunning:
		m.flagOwned(e, false)
	}
	if tr.before.Status.Down() != e.Status.Down() {
		m.cascade(e)
	}
}

// cascade forces the children of a down parent to DOWN, or lets them
// reassess their own signals once the parent recovers.
func (m *Manager) cascade(parent *Entity) {
	cf := parent.Family.Child()
	if cf == "" {
		return
	}
	down := parent.Status.Down()
	now := m.now()
	for _, cid := range parent.Children {
		_, err := m.update(cf, cid, func(c *Entity) error {
			if down {
				c.ParentDown = true
				if !c.Status.Down() {
					setStatus(c, StatusDown, parentDownReason(parent.Family), now)
				}
				return nil
			}
			if !c.ParentDown {
				return nil
			}
			c.ParentDown = false
			if c.Status != StatusStopped {
				m.reassess(c, now, ReasonParentRecovered)
			}
			return nil
		})
		if err != nil {
			m.logger.Warn("cascade to child failed", "family", cf, "id", cid, "error", err)
		}
	}
}

// reassess derives the status of an entity from its own signals.
func (m *Manager) reassess(e *Entity, now time.Time, recovered string) {
	switch {
	case e.CommFault:
		setStatus(e, StatusDown, ReasonCommFault, now)
	case e.AliveFresh(now, m.cfg.Tolerance):
		setStatus(e, StatusRunning, recovered, now)
	default:
		setStatus(e, StatusDown, ReasonAliveExpired, now)
	}
}

// setStatus moves e to s. The status time only moves on a change; the
// reason of a DOWN entity always reflects the latest cause.
func setStatus(e *Entity, s Status, reason string, at time.Time) {
	if e.Status == s && s != StatusDown {
		return
	}
	if e.Status != s {
		e.StatusTime = at
	}
	e.Status = s
	e.StatusReason = reason
}

func (m *Manager) writeStateTag(e *Entity) {
	if e.StateTagID == 0 {
		return
	}
	_, err := m.tags.Compute(e.StateTagID, func(t *tag.Tag) (*tag.Tag, error) {
		t.Value = string(e.Status)
		t.ValueDescription = e.StatusReason
		t.SourceTimestamp = e.StatusTime
		t.DAQTimestamp = e.StatusTime
		t.Quality.Remove(tag.StatusUninitialised)
		return t, nil
	})
	if err != nil {
		m.logger.Warn("state tag not written", "family", e.Family, "id", e.ID, "tag_id", e.StateTagID, "error", err)
	}
}

// flagOwned adds or removes the family quality flag on every tag owned by e.
func (m *Manager) flagOwned(e *Entity, down bool) {
	flag := e.Family.QualityFlag()
	desc := fmt.Sprintf("%s %q %s: %s", e.Family, e.Name, strings.ToLower(string(e.Status)), e.StatusReason)
	for _, id := range m.owned.Tags(e.Family, e.ID) {
		_, err := m.tags.Compute(id, func(t *tag.Tag) (*tag.Tag, error) {
			if down {
				t.Quality.Add(flag, desc)
			} else {
				t.Quality.Remove(flag)
			}
			return t, nil
		})
		if errors.Is(err, cache.ErrNotFound) {
			m.owned.Remove(id)
		}
	}
}

// adopt aligns the supervision flags of a tag with its current owner.
func (m *Manager) adopt(t *tag.Tag) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, id, ok := m.owned.Owner(t.ID)
	if !ok {
		return
	}
	owner, err := m.Get(f, id)
	if err != nil {
		return
	}
	desc := fmt.Sprintf("%s %q %s: %s", f, owner.Name, strings.ToLower(string(owner.Status)), owner.StatusReason)
	_, err = m.tags.Compute(t.ID, func(cur *tag.Tag) (*tag.Tag, error) {
		for _, other := range Families {
			if other != f {
				cur.Quality.Remove(other.QualityFlag())
			}
		}
		if owner.Status.Down() {
			cur.Quality.Add(f.QualityFlag(), desc)
		} else {
			cur.Quality.Remove(f.QualityFlag())
		}
		return cur, nil
	})
	if err != nil && !errors.Is(err, cache.ErrNotFound) {
		m.logger.Warn("adopting tag failed", "tag_id", t.ID, "error", err)
	}
}

func (m *Manager) link(child *Entity) {
	pf := child.Family.Parent()
	store, _ := m.stores.Of(pf)
	_, err := store.Compute(child.ParentID, func(p *Entity) (*Entity, error) {
		if !slices.Contains(p.Children, child.ID) {
			p.Children = append(p.Children, child.ID)
			slices.Sort(p.Children)
		}
		return p, nil
	})
	if err != nil {
		m.logger.Warn("linking child failed", "family", child.Family, "id", child.ID, "error", err)
	}
}

func (m *Manager) unlink(child *Entity) {
	pf := child.Family.Parent()
	if pf == "" {
		return
	}
	store, _ := m.stores.Of(pf)
	_, err := store.Compute(child.ParentID, func(p *Entity) (*Entity, error) {
		p.Children = slices.DeleteFunc(p.Children, func(id int64) bool { return id == child.ID })
		return p, nil
	})
	if err != nil && !errors.Is(err, cache.ErrNotFound) {
		m.logger.Warn("unlinking child failed", "family", child.Family, "id", child.ID, "error", err)
	}
}

// relink rebuilds every Children list from the ParentID of the cached
// entities. Entities loaded from persistence carry no links.
func (m *Manager) relink() error {
	for _, pf := range []Family{FamilyProcess, FamilyEquipment} {
		cf := pf.Child()
		parents, _ := m.stores.Of(pf)
		children, _ := m.stores.Of(cf)

		links := make(map[int64][]int64)
		for _, c := range children.GetAll() {
			if !parents.Contains(c.ParentID) {
				return fmt.Errorf("%w: %s %d names %s %d", ErrParentNotFound, cf, c.ID, pf, c.ParentID)
			}
			links[c.ParentID] = append(links[c.ParentID], c.ID)
		}
		for _, id := range parents.Keys() {
			want := links[id]
			slices.Sort(want)
			if _, err := parents.Compute(id, func(p *Entity) (*Entity, error) {
				p.Children = want
				return p, nil
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// applyLoaded pushes the status of entities loaded as down onto their
// tags and descendants.
func (m *Manager) applyLoaded() {
	for _, f := range Families {
		store, _ := m.stores.Of(f)
		for _, e := range store.GetAll() {
			if !e.Status.Down() {
				continue
			}
			m.flagOwned(e, true)
			m.cascade(e)
		}
	}
}

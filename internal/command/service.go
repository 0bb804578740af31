package command

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-monitor/internal/cache"
	"github.com/nerrad567/gray-logic-monitor/internal/tag"
)

// DefaultCheckInterval is how often pending executions are checked for timeout.
const DefaultCheckInterval = time.Second

// Logger defines the logging interface used by the service.
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

// Execution is one command sent towards the equipment.
type Execution struct {
	ExecutionID uuid.UUID `json:"execution_id"`
	TagID       int64     `json:"tag_id"`
	ProcessID   int64     `json:"process_id"`
	EquipmentID int64     `json:"equipment_id"`
	Value       any       `json:"value"`
	IssuedAt    time.Time `json:"issued_at"`
}

// Sender delivers an execution to the acquisition layer.
type Sender interface {
	SendCommand(ctx context.Context, exec Execution) error
}

// Service executes command tags and records their reports.
//
// Every state change goes through Compute on the command store, so
// listeners on the store see executions and reports in order.
type Service struct {
	store    *cache.Store[*Tag]
	sender   Sender
	logger   Logger
	now      func() time.Time
	interval time.Duration

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// Option configures a Service.
type Option func(*Service)

// WithSender sets where executions are delivered.
func WithSender(s Sender) Option {
	return func(svc *Service) { svc.sender = s }
}

// WithLogger sets the service logger.
func WithLogger(l Logger) Option {
	return func(svc *Service) { svc.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(svc *Service) { svc.now = now }
}

// WithCheckInterval sets how often pending executions are checked.
func WithCheckInterval(d time.Duration) Option {
	return func(svc *Service) {
		if d > 0 {
			svc.interval = d
		}
	}
}

// NewService creates a service over the command store.
func NewService(store *cache.Store[*Tag], opts ...Option) *Service {
	svc := &Service{
		store:    store,
		logger:   noopLogger{},
		now:      time.Now,
		interval: DefaultCheckInterval,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// SetSender replaces the sender after construction, once the transport
// is connected.
func (s *Service) SetSender(sender Sender) {
	s.sender = sender
}

// Store returns the command store.
func (s *Service) Store() *cache.Store[*Tag] {
	return s.store
}

// Execute validates value against the command tag, records a PENDING
// report and hands the execution to the sender. A send failure is recorded
// as FAILED and returned.
func (s *Service) Execute(ctx context.Context, id int64, value any) (Execution, error) {
	cmd, err := s.store.Get(id)
	if err != nil {
		return Execution{}, err
	}
	v, err := tag.Coerce(cmd.DataType, value)
	if err != nil || v == nil {
		return Execution{}, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	if err := checkBounds(cmd, v); err != nil {
		return Execution{}, err
	}

	exec := Execution{
		ExecutionID: uuid.New(),
		TagID:       cmd.ID,
		ProcessID:   cmd.ProcessID,
		EquipmentID: cmd.EquipmentID,
		Value:       v,
		IssuedAt:    s.now(),
	}
	if err := s.record(id, Report{ExecutionID: exec.ExecutionID, Value: v, Status: StatusPending,
		Description: "sent", Timestamp: exec.IssuedAt}); err != nil {
		return Execution{}, err
	}

	if s.sender == nil {
		return exec, nil
	}
	if err := s.sender.SendCommand(ctx, exec); err != nil {
		if rerr := s.record(id, Report{ExecutionID: exec.ExecutionID, Value: v, Status: StatusFailed,
			Description: err.Error(), Timestamp: s.now()}); rerr != nil {
			s.logger.Warn("recording failed execution", "command_id", id, "error", rerr)
		}
		return exec, fmt.Errorf("sending command %d: %w", id, err)
	}
	s.logger.Info("command sent", "command_id", id, "execution_id", exec.ExecutionID)
	return exec, nil
}

// Report records the outcome of an execution. The report must name the
// execution last sent for the tag and must not be older than what is
// already recorded.
func (s *Service) Report(ctx context.Context, id int64, r Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = s.now()
	}
	_, err := s.store.Compute(id, func(c *Tag) (*Tag, error) {
		last := c.LastReport
		if last == nil || last.ExecutionID != r.ExecutionID {
			return nil, fmt.Errorf("%w: %s on command %d", ErrUnknownExecution, r.ExecutionID, id)
		}
		if r.Timestamp.Before(last.Timestamp) {
			return nil, fmt.Errorf("%w: %s on command %d", ErrStaleReport, r.ExecutionID, id)
		}
		if r.Value == nil {
			r.Value = last.Value
		}
		c.LastReport = &r
		return c, nil
	})
	return err
}

// ExpirePending marks executions without a report within the tag's
// ExecTimeout as TIMEOUT and returns how many it marked.
func (s *Service) ExpirePending() int {
	now := s.now()
	expired := 0
	for _, c := range s.store.GetAll() {
		if !overdue(c, now) {
			continue
		}
		_, err := s.store.Compute(c.ID, func(cur *Tag) (*Tag, error) {
			if overdue(cur, now) {
				cur.LastReport.Status = StatusTimeout
				cur.LastReport.Description = fmt.Sprintf("no report within %s", cur.ExecTimeout)
				cur.LastReport.Timestamp = now
			}
			return cur, nil
		})
		if err == nil {
			expired++
		} else if !errors.Is(err, cache.ErrNotFound) {
			s.logger.Warn("expiring command execution", "command_id", c.ID, "error", err)
		}
	}
	return expired
}

// Start runs the timeout check until ctx is cancelled or Stop is called.
func (s *Service) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
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
				if n := s.ExpirePending(); n > 0 {
					s.logger.Warn("command executions timed out", "count", n)
				}
			}
		}
	}()
}

// Stop halts the timeout check. Safe to call multiple times.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
}

func (s *Service) record(id int64, r Report) error {
	_, err := s.store.Compute(id, func(c *Tag) (*Tag, error) {
		c.LastReport = &r
		return c, nil
	})
	return err
}

func overdue(c *Tag, now time.Time) bool {
	return c.ExecTimeout > 0 && c.LastReport != nil &&
		c.LastReport.Status == StatusPending &&
		now.Sub(c.LastReport.Timestamp) > c.ExecTimeout
}

func checkBounds(c *Tag, v any) error {
	f, ok := v.(float64)
	if !ok {
		if i, isInt := v.(int64); isInt {
			f, ok = float64(i), true
		}
	}
	if !ok {
		return nil
	}
	if (c.MinValue != nil && f < *c.MinValue) || (c.MaxValue != nil && f > *c.MaxValue) {
		return fmt.Errorf("%w: %v outside configured range", ErrInvalidValue, v)
	}
	return nil
}

package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/gray-logic-monitor/internal/cache"
	"github.com/nerrad567/gray-logic-monitor/internal/command"
	"github.com/nerrad567/gray-logic-monitor/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-monitor/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-monitor/internal/monitor"
)

// Value outcomes recorded in graymon_ingest_values_total.
const (
	valueAccepted = "accepted"
	valueRejected = "rejected"
	valueUnknown  = "unknown_tag"
	valueFailed   = "failed"
)

// Submitter receives decoded source values. *monitor.Monitor satisfies it.
type Submitter interface {
	SubmitValue(ctx context.Context, v monitor.SourceValue) (bool, error)
}

// Reporter receives command reports. *command.Service satisfies it.
type Reporter interface {
	Report(ctx context.Context, id int64, r command.Report) error
}

// ReportMessage is the payload of a command report topic.
type ReportMessage struct {
	CommandID int64 `json:"command_id"`
	command.Report
}

// Option configures the ingest components.
type Option func(*options)

type options struct {
	logger Logger
	reg    prometheus.Registerer
	qos    byte
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRegisterer registers the component metrics.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.reg = reg }
}

// WithQoS sets the subscription QoS. The default is 1.
func WithQoS(qos byte) Option {
	return func(o *options) { o.qos = qos }
}

func buildOptions(opts []Option) options {
	o := options{logger: noopLogger{}, qos: 1}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Adapter feeds acquisition messages into the monitor.
type Adapter struct {
	transport Transport
	submitter Submitter
	reporter  Reporter
	logger    Logger
	qos       byte

	values   *prometheus.CounterVec
	messages *prometheus.CounterVec

	mu      sync.Mutex
	ctx     context.Context
	started bool
}

// NewAdapter creates an adapter. reporter may be nil when command reports
// are not consumed.
func NewAdapter(t Transport, s Submitter, r Reporter, opts ...Option) *Adapter {
	o := buildOptions(opts)
	return &Adapter{
		transport: t,
		submitter: s,
		reporter:  r,
		logger:    o.logger,
		qos:       o.qos,
		ctx:       context.Background(),
		values: metrics.MustRegister(o.reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace, Subsystem: "ingest", Name: "values_total",
			Help: "Source values received from acquisition by outcome",
		}, []string{"outcome"})),
		messages: metrics.MustRegister(o.reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace, Subsystem: "ingest", Name: "messages_total",
			Help: "Acquisition messages received by kind and outcome",
		}, []string{"kind", "outcome"})),
	}
}

// Start subscribes to value batches and, with a reporter, command reports.
// Handlers submit with ctx, so cancelling it makes later submissions fail
// fast until Stop unsubscribes.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	a.ctx = ctx
	a.started = true
	a.mu.Unlock()

	if err := a.transport.Subscribe(mqtt.Topics{}.AllAcquisitionValues(), a.qos, a.HandleValues); err != nil {
		return fmt.Errorf("subscribing to source values: %w", err)
	}
	if a.reporter != nil {
		if err := a.transport.Subscribe(mqtt.Topics{}.AllAcquisitionReports(), a.qos, a.HandleReport); err != nil {
			return fmt.Errorf("subscribing to command reports: %w", err)
		}
	}
	a.logger.Info("acquisition ingest started", "values", mqtt.Topics{}.AllAcquisitionValues())
	return nil
}

// Stop unsubscribes. Errors are logged; the broker drops the subscriptions
// with the session anyway.
func (a *Adapter) Stop() {
	a.mu.Lock()
	started := a.started
	a.started = false
	a.mu.Unlock()
	if !started {
		return
	}

	topics := []string{mqtt.Topics{}.AllAcquisitionValues()}
	if a.reporter != nil {
		topics = append(topics, mqtt.Topics{}.AllAcquisitionReports())
	}
	for _, topic := range topics {
		if err := a.transport.Unsubscribe(topic); err != nil {
			a.logger.Debug("unsubscribe failed", "topic", topic, "error", err)
		}
	}
}

func (a *Adapter) context() context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ctx
}

// HandleValues decodes a JSON array (or a single object) of source values
// and submits each one. Per-value failures are logged and counted; only an
// undecodable payload is returned as an error.
func (a *Adapter) HandleValues(topic string, payload []byte) error {
	values, err := decodeValues(payload)
	if err != nil {
		a.messages.WithLabelValues("values", "malformed").Inc()
		return fmt.Errorf("%w: %s: %v", ErrMalformedPayload, topic, err)
	}
	a.messages.WithLabelValues("values", "ok").Inc()

	process, _ := mqtt.ProcessOf(topic)
	ctx := a.context()
	for _, v := range values {
		accepted, err := a.submitter.SubmitValue(ctx, v)
		switch {
		case err == nil && accepted:
			a.values.WithLabelValues(valueAccepted).Inc()
		case err == nil:
			a.values.WithLabelValues(valueRejected).Inc()
		case errors.Is(err, cache.ErrNotFound):
			a.values.WithLabelValues(valueUnknown).Inc()
			a.logger.Debug("value for unknown tag dropped", "process", process, "tag_id", v.TagID)
		default:
			a.values.WithLabelValues(valueFailed).Inc()
			a.logger.Warn("source value not submitted", "process", process, "tag_id", v.TagID, "error", err)
		}
	}
	return nil
}

func decodeValues(payload []byte) ([]monitor.SourceValue, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, errors.New("empty payload")
	}
	if trimmed[0] != '[' {
		var v monitor.SourceValue
		if err := json.Unmarshal(trimmed, &v); err != nil {
			return nil, err
		}
		return []monitor.SourceValue{v}, nil
	}
	var values []monitor.SourceValue
	if err := json.Unmarshal(trimmed, &values); err != nil {
		return nil, err
	}
	return values, nil
}

// HandleReport records one command report.
func (a *Adapter) HandleReport(topic string, payload []byte) error {
	var msg ReportMessage
	if err := json.Unmarshal(payload, &msg); err != nil || msg.CommandID <= 0 {
		a.messages.WithLabelValues("reports", "malformed").Inc()
		if err == nil {
			err = errors.New("command_id is required")
		}
		return fmt.Errorf("%w: %s: %v", ErrMalformedPayload, topic, err)
	}

	if err := a.reporter.Report(a.context(), msg.CommandID, msg.Report); err != nil {
		a.messages.WithLabelValues("reports", "refused").Inc()
		return fmt.Errorf("recording report for command %d: %w", msg.CommandID, err)
	}
	a.messages.WithLabelValues("reports", "ok").Inc()
	return nil
}

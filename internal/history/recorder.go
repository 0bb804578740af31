package history

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/gray-logic-monitor/internal/cache"
	"github.com/nerrad567/gray-logic-monitor/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-monitor/internal/tag"
)

// Measurement is the InfluxDB measurement every tag point is written to.
const Measurement = "tag_value"

// Writer queues a point for asynchronous delivery.
// *influxdb.Client satisfies it.
type Writer interface {
	WritePoint(measurement string, tags map[string]string, fields map[string]any, ts time.Time)
	Flush()
}

// Logger defines the logging interface used by the recorder.
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

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger sets the recorder logger.
func WithLogger(l Logger) Option {
	return func(r *Recorder) { r.logger = l }
}

// WithRegisterer registers the recorder metrics.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(r *Recorder) { r.reg = reg }
}

// WithBuffer tunes the buffered listener.
func WithBuffer(opts cache.BufferOptions) Option {
	return func(r *Recorder) { r.buffer = opts }
}

// Recorder writes tag updates to a Writer.
type Recorder struct {
	writer Writer
	logger Logger
	reg    prometheus.Registerer
	buffer cache.BufferOptions

	points  prometheus.Counter
	skipped prometheus.Counter

	sub      cache.Subscription
	stopOnce sync.Once
}

// New creates a recorder writing to w.
func New(w Writer, opts ...Option) *Recorder {
	r := &Recorder{
		writer: w,
		logger: noopLogger{},
		buffer: cache.BufferOptions{Name: "history"},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.buffer.Name == "" {
		r.buffer.Name = "history"
	}
	r.points = metrics.MustRegister(r.reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace, Subsystem: "history", Name: "points_total",
		Help: "Tag updates queued for InfluxDB",
	}))
	r.skipped = metrics.MustRegister(r.reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace, Subsystem: "history", Name: "skipped_total",
		Help: "Tag updates with no value that could be written",
	}))
	return r
}

// Start subscribes the recorder to the tag store.
func (r *Recorder) Start(tags *cache.Store[*tag.Tag]) {
	r.sub = tags.SubscribeBuffered(r.handle, r.buffer)
	r.logger.Info("history recorder started", "measurement", Measurement)
}

// Stop delivers pending updates and flushes the writer.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() {
		if r.sub != nil {
			r.sub.Close()
		}
		r.writer.Flush()
	})
}

func (r *Recorder) handle(events []cache.Event[*tag.Tag]) {
	for _, ev := range events {
		if ev.Kind != cache.EventUpdated {
			continue
		}
		tags, fields, ts, ok := Point(ev.Value)
		if !ok {
			r.skipped.Inc()
			continue
		}
		r.writer.WritePoint(Measurement, tags, fields, ts)
		r.points.Inc()
	}
}

// Point maps a tag snapshot to InfluxDB tags, fields and timestamp.
//
// Numbers and booleans go to the "value" field, strings to "value_string".
// Object values are not stored. Invalid values are still written, with
// valid=false and the active quality flags, so gaps are visible in history.
// ok is false when there is nothing to write.
func Point(t *tag.Tag) (tags map[string]string, fields map[string]any, ts time.Time, ok bool) {
	fields = make(map[string]any, 4)
	switch v := t.Value.(type) {
	case float64:
		fields["value"] = v
	case int64:
		fields["value"] = v
	case bool:
		fields["value"] = v
	case string:
		fields["value_string"] = v
	}
	if len(fields) == 0 && t.Quality.IsValid() {
		return nil, nil, time.Time{}, false
	}

	fields["valid"] = t.Quality.IsValid()
	if !t.Quality.IsValid() {
		fields["quality"] = qualityFlags(t.Quality)
	}
	if t.ValueDescription != "" {
		fields["description"] = t.ValueDescription
	}

	tags = map[string]string{
		"tag_id":   strconv.FormatInt(t.ID, 10),
		"tag_name": t.Name,
		"kind":     string(t.Kind),
	}
	if t.EquipmentID != 0 {
		tags["equipment_id"] = strconv.FormatInt(t.EquipmentID, 10)
	}

	ts = t.SourceTimestamp
	if ts.IsZero() {
		ts = t.CacheTimestamp
	}
	return tags, fields, ts, true
}

func qualityFlags(q tag.Quality) string {
	statuses := q.Statuses()
	flags := make([]string, len(statuses))
	for i, s := range statuses {
		flags[i] = string(s)
	}
	return strings.Join(flags, ",")
}

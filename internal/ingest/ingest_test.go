package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-monitor/internal/cache"
	"github.com/nerrad567/gray-logic-monitor/internal/command"
	"github.com/nerrad567/gray-logic-monitor/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-monitor/internal/monitor"
	"github.com/nerrad567/gray-logic-monitor/internal/supervision"
	"github.com/nerrad567/gray-logic-monitor/internal/tag"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type message struct {
	topic    string
	payload  []byte
	retained bool
}

// fakeTransport records subscriptions and publishes instead of talking to
// a broker.
type fakeTransport struct {
	mu         sync.Mutex
	handlers   map[string]mqtt.MessageHandler
	published  []message
	publishErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: map[string]mqtt.MessageHandler{}}
}

func (f *fakeTransport) Subscribe(topic string, _ byte, h mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = h
	return nil
}

func (f *fakeTransport) Unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, topic)
	return nil
}

func (f *fakeTransport) PublishJSON(topic string, v any, retained bool) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return f.record(topic, b, retained)
}

func (f *fakeTransport) PublishRetained(topic string, payload []byte) error {
	return f.record(topic, payload, true)
}

func (f *fakeTransport) record(topic string, payload []byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, message{topic, payload, retained})
	return nil
}

func (f *fakeTransport) deliver(t *testing.T, topic, filter string, payload string) error {
	t.Helper()
	f.mu.Lock()
	h, ok := f.handlers[filter]
	f.mu.Unlock()
	require.True(t, ok, "no handler for %s", filter)
	return h(topic, []byte(payload))
}

func (f *fakeTransport) messages() []message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]message(nil), f.published...)
}

// newMonitor returns a monitor holding data tag 1, rule tag 10 and
// command 300.
func newMonitor(t *testing.T) *monitor.Monitor {
	t.Helper()
	m := monitor.New(monitor.Config{})
	t.Cleanup(m.Stop)
	require.NoError(t, m.PutTag(&tag.Tag{ID: 1, Name: "temp", Kind: tag.KindData, DataType: tag.TypeFloat}))
	require.NoError(t, m.PutTag(&tag.Tag{
		ID: 10, Name: "double", Kind: tag.KindRule, DataType: tag.TypeFloat,
		RuleText: "#1 * 2", RuleInputs: []int64{1},
	}))
	require.NoError(t, m.Commands().Put(300, &command.Tag{
		ID: 300, Name: "setpoint", ProcessID: 1, EquipmentID: 10, DataType: tag.TypeFloat, ExecTimeout: time.Minute,
	}))
	return m
}

func TestAdapter_SubmitsValueBatches(t *testing.T) {
	reg := prometheus.NewRegistry()
	tr := newFakeTransport()
	m := newMonitor(t)
	a := NewAdapter(tr, m, m.CommandService(), WithRegisterer(reg))
	require.NoError(t, a.Start(context.Background()))
	defer a.Stop()

	batch := `[
		{"tag_id": 1, "value": 21.5, "source_timestamp": "2026-03-01T12:00:00Z"},
		{"tag_id": 1, "value": 20.0, "source_timestamp": "2026-03-01T11:00:00Z"},
		{"tag_id": 99, "value": 1, "source_timestamp": "2026-03-01T12:00:00Z"},
		{"tag_id": 10, "value": 1, "source_timestamp": "2026-03-01T12:00:00Z"}
	]`
	err := tr.deliver(t, mqtt.Topics{}.AcquisitionValues("plant-a"), mqtt.Topics{}.AllAcquisitionValues(), batch)
	require.NoError(t, err)

	got, err := m.Tags().Get(1)
	require.NoError(t, err)
	assert.Equal(t, 21.5, got.Value)
	assert.Equal(t, t0, got.SourceTimestamp)

	assert.Equal(t, 1.0, testutil.ToFloat64(a.values.WithLabelValues(valueAccepted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.values.WithLabelValues(valueRejected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.values.WithLabelValues(valueUnknown)))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.values.WithLabelValues(valueFailed)), "rule tags refuse source values")
}

func TestAdapter_SingleObjectPayload(t *testing.T) {
	tr := newFakeTransport()
	m := newMonitor(t)
	a := NewAdapter(tr, m, nil)
	require.NoError(t, a.Start(context.Background()))

	err := tr.deliver(t, "graymon/acquisition/p/values", mqtt.Topics{}.AllAcquisitionValues(),
		`{"tag_id": 1, "value": 3, "source_timestamp": "2026-03-01T12:00:00Z"}`)
	require.NoError(t, err)

	got, err := m.Tags().Get(1)
	require.NoError(t, err)
	assert.Equal(t, 3.0, got.Value)

	tr.mu.Lock()
	_, subscribed := tr.handlers[mqtt.Topics{}.AllAcquisitionReports()]
	tr.mu.Unlock()
	assert.False(t, subscribed, "reports are not consumed without a reporter")
}

func TestAdapter_MalformedPayload(t *testing.T) {
	tr := newFakeTransport()
	a := NewAdapter(tr, newMonitor(t), nil)
	require.NoError(t, a.Start(context.Background()))

	for _, payload := range []string{"", "   ", "{not json", `[{"tag_id": "one"}]`} {
		err := tr.deliver(t, "graymon/acquisition/p/values", mqtt.Topics{}.AllAcquisitionValues(), payload)
		assert.ErrorIs(t, err, ErrMalformedPayload, "payload %q", payload)
	}
	assert.Equal(t, 4.0, testutil.ToFloat64(a.messages.WithLabelValues("values", "malformed")))
}

func TestAdapter_CancelledContextFailsSubmissions(t *testing.T) {
	tr := newFakeTransport()
	m := newMonitor(t)
	a := NewAdapter(tr, m, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, a.Start(ctx))
	cancel()

	err := tr.deliver(t, "graymon/acquisition/p/values", mqtt.Topics{}.AllAcquisitionValues(),
		`[{"tag_id": 1, "value": 3, "source_timestamp": "2026-03-01T12:00:00Z"}]`)
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(a.values.WithLabelValues(valueFailed)))
}

func TestAdapter_RecordsReports(t *testing.T) {
	tr := newFakeTransport()
	m := newMonitor(t)
	a := NewAdapter(tr, m, m.CommandService())
	require.NoError(t, a.Start(context.Background()))

	exec, err := m.CommandService().Execute(context.Background(), 300, 21.0)
	require.NoError(t, err)

	report, err := json.Marshal(ReportMessage{
		CommandID: 300,
		Report:    command.Report{ExecutionID: exec.ExecutionID, Status: command.StatusOK, Timestamp: exec.IssuedAt.Add(time.Second)},
	})
	require.NoError(t, err)
	require.NoError(t, tr.deliver(t, "graymon/acquisition/p/reports", mqtt.Topics{}.AllAcquisitionReports(), string(report)))

	got, err := m.Commands().Get(300)
	require.NoError(t, err)
	require.NotNil(t, got.LastReport)
	assert.Equal(t, command.StatusOK, got.LastReport.Status)
	assert.Equal(t, 21.0, got.LastReport.Value, "the sent value is kept when the report has none")

	err = tr.deliver(t, "graymon/acquisition/p/reports", mqtt.Topics{}.AllAcquisitionReports(), `{"status":"OK"}`)
	assert.ErrorIs(t, err, ErrMalformedPayload)

	stale, err := json.Marshal(ReportMessage{CommandID: 300, Report: command.Report{Status: command.StatusOK}})
	require.NoError(t, err)
	err = tr.deliver(t, "graymon/acquisition/p/reports", mqtt.Topics{}.AllAcquisitionReports(), string(stale))
	assert.ErrorIs(t, err, command.ErrUnknownExecution)
}

func TestAdapter_StopUnsubscribes(t *testing.T) {
	tr := newFakeTransport()
	m := newMonitor(t)
	a := NewAdapter(tr, m, m.CommandService())
	require.NoError(t, a.Start(context.Background()))

	a.Stop()
	a.Stop()

	tr.mu.Lock()
	defer tr.mu.Unlock()
	assert.Empty(t, tr.handlers)
}

func TestPublisher_MirrorsTagsAndEntities(t *testing.T) {
	tr := newFakeTransport()
	tags := cache.New[*tag.Tag]("tag", cache.WithPolicy[*tag.Tag](tag.FlowPolicy{}))
	defer tags.Close()
	entities := supervision.NewStores()
	defer entities.Close()

	p := NewPublisher(tr, PublisherConfig{
		Tags: true, Supervision: true,
		Buffer: cache.BufferOptions{MinDelay: time.Millisecond},
	})
	p.Start(tags, entities)

	require.NoError(t, tags.Put(1, &tag.Tag{
		ID: 1, Name: "temp", Kind: tag.KindData, Value: 20.5, SourceTimestamp: t0,
	}))
	require.NoError(t, entities.Equipment.Put(10, &supervision.Entity{
		ID: 10, Name: "pump", Family: supervision.FamilyEquipment, Status: supervision.StatusDown, StatusReason: "alive expired",
	}))
	require.NoError(t, tags.Remove(1))
	p.Stop()

	byTopic := map[string]message{}
	for _, msg := range tr.messages() {
		assert.True(t, msg.retained, "state topics are retained")
		byTopic[msg.topic] = msg
	}

	tagMsg, ok := byTopic["graymon/core/tag/1"]
	require.True(t, ok)
	assert.Empty(t, tagMsg.payload, "removing a tag clears its retained snapshot")

	eqMsg, ok := byTopic["graymon/core/supervision/equipment/10"]
	require.True(t, ok)
	var snap EntitySnapshot
	require.NoError(t, json.Unmarshal(eqMsg.payload, &snap))
	assert.Equal(t, supervision.StatusDown, snap.Status)
	assert.Equal(t, "alive expired", snap.StatusReason)
}

func TestPublisher_CountsFailures(t *testing.T) {
	tr := newFakeTransport()
	tr.publishErr = mqtt.ErrNotConnected
	tags := cache.New[*tag.Tag]("tag")
	defer tags.Close()

	p := NewPublisher(tr, PublisherConfig{Tags: true, Buffer: cache.BufferOptions{MinDelay: time.Millisecond}})
	p.Start(tags, supervision.Stores{})
	require.NoError(t, tags.Put(1, &tag.Tag{ID: 1, Name: "temp", Kind: tag.KindData}))
	p.Stop()

	assert.Equal(t, 1.0, testutil.ToFloat64(p.failed.WithLabelValues("tag")))
	assert.Zero(t, testutil.ToFloat64(p.published.WithLabelValues("tag")))
}

func TestNewTagSnapshot(t *testing.T) {
	s := NewTagSnapshot(&tag.Tag{
		ID: 1, Name: "temp", Kind: tag.KindData, Value: 1.0,
		Quality: tag.NewQuality(tag.StatusValueOutOfBounds, "above 50"),
	})
	assert.False(t, s.Valid)
	assert.True(t, s.Quality.Has(tag.StatusValueOutOfBounds))
}

func TestSender_PublishesToProcessTopic(t *testing.T) {
	tr := newFakeTransport()
	processes := cache.New[*supervision.Entity]("process")
	defer processes.Close()
	require.NoError(t, processes.Put(1, &supervision.Entity{ID: 1, Name: "plant-a", Family: supervision.FamilyProcess}))

	s := NewSender(tr, processes)
	exec := command.Execution{TagID: 300, ProcessID: 1, Value: 21.0, IssuedAt: t0}
	require.NoError(t, s.SendCommand(context.Background(), exec))
	require.NoError(t, s.SendCommand(context.Background(), command.Execution{TagID: 301, ProcessID: 7}))

	msgs := tr.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "graymon/acquisition/plant-a/commands", msgs[0].topic)
	assert.False(t, msgs[0].retained)
	assert.Equal(t, "graymon/acquisition/7/commands", msgs[1].topic)

	var got command.Execution
	require.NoError(t, json.Unmarshal(msgs[0].payload, &got))
	assert.Equal(t, int64(300), got.TagID)
}

func TestSender_Errors(t *testing.T) {
	tr := newFakeTransport()
	s := NewSender(tr, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.SendCommand(ctx, command.Execution{ProcessID: 1}), context.Canceled)

	tr.publishErr = errors.New("broker gone")
	assert.Error(t, s.SendCommand(context.Background(), command.Execution{ProcessID: 1}))
}

func TestSender_FailedSendIsRecorded(t *testing.T) {
	tr := newFakeTransport()
	tr.publishErr = mqtt.ErrNotConnected
	m := newMonitor(t)
	m.CommandService().SetSender(NewSender(tr, m.Entities().Processes))

	_, err := m.CommandService().Execute(context.Background(), 300, 18.0)
	require.ErrorIs(t, err, mqtt.ErrNotConnected)

	got, err := m.Commands().Get(300)
	require.NoError(t, err)
	assert.Equal(t, command.StatusFailed, got.LastReport.Status)
}

package ingest

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/gray-logic-monitor/internal/cache"
	"github.com/nerrad567/gray-logic-monitor/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-monitor/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-monitor/internal/supervision"
	"github.com/nerrad567/gray-logic-monitor/internal/tag"
)

// TagSnapshot is the retained payload of graymon/core/tag/{id}.
type TagSnapshot struct {
	ID               int64       `json:"id"`
	Name             string      `json:"name"`
	Kind             tag.Kind    `json:"kind"`
	Value            any         `json:"value"`
	ValueDescription string      `json:"value_description,omitempty"`
	Valid            bool        `json:"valid"`
	Quality          tag.Quality `json:"quality,omitempty"`
	SourceTimestamp  time.Time   `json:"source_timestamp"`
	CacheTimestamp   time.Time   `json:"cache_timestamp"`
}

// NewTagSnapshot builds the published view of a tag.
func NewTagSnapshot(t *tag.Tag) TagSnapshot {
	return TagSnapshot{
		ID:               t.ID,
		Name:             t.Name,
		Kind:             t.Kind,
		Value:            t.Value,
		ValueDescription: t.ValueDescription,
		Valid:            t.Quality.IsValid(),
		Quality:          t.Quality,
		SourceTimestamp:  t.SourceTimestamp,
		CacheTimestamp:   t.CacheTimestamp,
	}
}

// EntitySnapshot is the retained payload of
// graymon/core/supervision/{family}/{id}.
type EntitySnapshot struct {
	Family       supervision.Family `json:"family"`
	ID           int64              `json:"id"`
	Name         string             `json:"name"`
	Status       supervision.Status `json:"status"`
	StatusReason string             `json:"status_reason,omitempty"`
	StatusTime   time.Time          `json:"status_time"`
}

// NewEntitySnapshot builds the published view of an entity.
func NewEntitySnapshot(e *supervision.Entity) EntitySnapshot {
	return EntitySnapshot{
		Family:       e.Family,
		ID:           e.ID,
		Name:         e.Name,
		Status:       e.Status,
		StatusReason: e.StatusReason,
		StatusTime:   e.StatusTime,
	}
}

// PublisherConfig selects what is mirrored to the broker.
type PublisherConfig struct {
	Tags        bool
	Supervision bool
	Buffer      cache.BufferOptions
}

// Publisher mirrors cache changes onto retained topics.
//
// It runs as buffered listeners, so a slow broker costs at most dropped
// intermediate states, never cache latency. A removed entity clears its
// retained message with an empty payload.
type Publisher struct {
	transport Transport
	cfg       PublisherConfig
	logger    Logger

	published *prometheus.CounterVec
	failed    *prometheus.CounterVec

	subs     []cache.Subscription
	stopOnce sync.Once
}

// NewPublisher creates a publisher.
func NewPublisher(t Transport, cfg PublisherConfig, opts ...Option) *Publisher {
	o := buildOptions(opts)
	return &Publisher{
		transport: t,
		cfg:       cfg,
		logger:    o.logger,
		published: metrics.MustRegister(o.reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace, Subsystem: "publisher", Name: "messages_total",
			Help: "Snapshots published to the broker by kind",
		}, []string{"kind"})),
		failed: metrics.MustRegister(o.reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace, Subsystem: "publisher", Name: "failures_total",
			Help: "Snapshots that could not be published by kind",
		}, []string{"kind"})),
	}
}

// Start subscribes to the stores enabled in the config.
func (p *Publisher) Start(tags *cache.Store[*tag.Tag], entities supervision.Stores) {
	if p.cfg.Tags {
		opts := p.cfg.Buffer
		opts.Name = "mqtt_tags"
		p.subs = append(p.subs, tags.SubscribeBuffered(p.publishTags, opts))
	}
	if p.cfg.Supervision {
		for _, f := range supervision.Families {
			store, err := entities.Of(f)
			if err != nil {
				continue
			}
			opts := p.cfg.Buffer
			opts.Name = "mqtt_" + string(f)
			p.subs = append(p.subs, store.SubscribeBuffered(p.publishEntities(f), opts))
		}
	}
	p.logger.Info("state publisher started", "tags", p.cfg.Tags, "supervision", p.cfg.Supervision)
}

// Stop publishes what is still queued and unsubscribes.
func (p *Publisher) Stop() {
	p.stopOnce.Do(func() {
		for _, s := range p.subs {
			s.Close()
		}
	})
}

func (p *Publisher) publishTags(events []cache.Event[*tag.Tag]) {
	for _, ev := range events {
		topic := mqtt.Topics{}.CoreTag(ev.Key)
		if ev.Kind == cache.EventRemoved {
			p.send("tag", topic, nil)
			continue
		}
		p.send("tag", topic, NewTagSnapshot(ev.Value))
	}
}

func (p *Publisher) publishEntities(f supervision.Family) func([]cache.Event[*supervision.Entity]) {
	kind := string(f)
	return func(events []cache.Event[*supervision.Entity]) {
		for _, ev := range events {
			topic := mqtt.Topics{}.CoreSupervision(kind, ev.Key)
			if ev.Kind == cache.EventRemoved {
				p.send(kind, topic, nil)
				continue
			}
			p.send(kind, topic, NewEntitySnapshot(ev.Value))
		}
	}
}

// send publishes v retained, or clears the topic when v is nil.
func (p *Publisher) send(kind, topic string, v any) {
	var err error
	if v == nil {
		err = p.transport.PublishRetained(topic, nil)
	} else {
		err = p.transport.PublishJSON(topic, v, true)
	}
	if err != nil {
		p.failed.WithLabelValues(kind).Inc()
		p.logger.Debug("publish failed", "topic", topic, "error", err)
		return
	}
	p.published.WithLabelValues(kind).Inc()
}

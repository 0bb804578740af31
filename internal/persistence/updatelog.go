package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/gray-logic-monitor/internal/cache"
	"github.com/nerrad567/gray-logic-monitor/internal/tag"
)

// Update log defaults.
const (
	DefaultRetention      = 30 * 24 * time.Hour
	DefaultPurgeSchedule  = "0 3 * * *"
	DefaultReplayInterval = 30 * time.Second

	writeTimeout = 10 * time.Second
	replayBatch  = 500
)

// Logger defines the logging interface used by the update log.
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

// Fallback is a durable queue that holds records the database refused.
type Fallback interface {
	Append(records [][]byte) (dropped int, err error)
	Drain(ctx context.Context, batchSize int, fn func([][]byte) error) (int, error)
	Len() (int, error)
}

// Record is one accepted tag update as written to tag_log.
type Record struct {
	TagID            int64       `json:"tag_id"`
	Value            any         `json:"value"`
	ValueDescription string      `json:"value_description,omitempty"`
	Quality          tag.Quality `json:"quality,omitempty"`
	SourceTimestamp  time.Time   `json:"source_timestamp"`
	DAQTimestamp     time.Time   `json:"daq_timestamp"`
	CacheTimestamp   time.Time   `json:"cache_timestamp"`
}

// RecordFrom builds the log record of a tag snapshot.
func RecordFrom(t *tag.Tag) Record {
	return Record{
		TagID:            t.ID,
		Value:            t.Value,
		ValueDescription: t.ValueDescription,
		Quality:          t.Quality,
		SourceTimestamp:  t.SourceTimestamp,
		DAQTimestamp:     t.DAQTimestamp,
		CacheTimestamp:   t.CacheTimestamp,
	}
}

// UpdateLogConfig tunes the update log.
type UpdateLogConfig struct {
	Buffer         cache.BufferOptions
	Retention      time.Duration
	PurgeSchedule  string
	ReplayInterval time.Duration
}

// UpdateLogOption configures an UpdateLog.
type UpdateLogOption func(*UpdateLog)

// WithLogger sets the update log logger.
func WithLogger(l Logger) UpdateLogOption {
	return func(u *UpdateLog) { u.logger = l }
}

// WithFallback sets where records go when the database write fails.
func WithFallback(f Fallback) UpdateLogOption {
	return func(u *UpdateLog) { u.fallback = f }
}

// WithClock replaces time.Now for retention and scheduling.
func WithClock(now func() time.Time) UpdateLogOption {
	return func(u *UpdateLog) { u.now = now }
}

// WithRegisterer registers the update log metrics.
func WithRegisterer(reg prometheus.Registerer) UpdateLogOption {
	return func(u *UpdateLog) { u.metrics = newLogMetrics(reg) }
}

// UpdateLog appends accepted tag updates to the tag_log table.
//
// It runs as a buffered listener on the tag store, so a slow disk never
// delays the cache. A batch that cannot be written is moved to the fallback
// store and replayed once the database accepts writes again.
type UpdateLog struct {
	db       *sql.DB
	cfg      UpdateLogConfig
	schedule *cronexpr.Expression
	fallback Fallback
	logger   Logger
	now      func() time.Time
	metrics  *logMetrics

	// writeMu keeps replayed records behind any batch being written.
	writeMu sync.Mutex

	sub      cache.Subscription
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewUpdateLog creates an update log writing to db.
func NewUpdateLog(db *sql.DB, cfg UpdateLogConfig, opts ...UpdateLogOption) (*UpdateLog, error) {
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.PurgeSchedule == "" {
		cfg.PurgeSchedule = DefaultPurgeSchedule
	}
	if cfg.ReplayInterval <= 0 {
		cfg.ReplayInterval = DefaultReplayInterval
	}
	if cfg.Buffer.Name == "" {
		cfg.Buffer.Name = "update_log"
	}

	schedule, err := cronexpr.Parse(cfg.PurgeSchedule)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidSchedule, cfg.PurgeSchedule, err)
	}

	u := &UpdateLog{
		db:       db,
		cfg:      cfg,
		schedule: schedule,
		logger:   noopLogger{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(u)
	}
	if u.metrics == nil {
		u.metrics = newLogMetrics(nil)
	}
	return u, nil
}

// Start subscribes to tags and starts the replay and purge loops.
// The loops stop when ctx is cancelled or Stop is called.
func (u *UpdateLog) Start(ctx context.Context, tags *cache.Store[*tag.Tag]) {
	ctx, u.cancel = context.WithCancel(ctx)
	u.sub = tags.SubscribeBuffered(u.handle, u.cfg.Buffer)

	u.wg.Add(1)
	go u.purgeLoop(ctx)
	if u.fallback != nil {
		u.wg.Add(1)
		go u.replayLoop(ctx)
	}
	u.logger.Info("update log started",
		"purge_schedule", u.cfg.PurgeSchedule,
		"retention", u.cfg.Retention.String(),
		"fallback", u.fallback != nil,
	)
}

// Stop flushes pending updates and stops the background loops.
func (u *UpdateLog) Stop() {
	u.stopOnce.Do(func() {
		if u.sub != nil {
			u.sub.Close()
		}
		if u.cancel != nil {
			u.cancel()
		}
		u.wg.Wait()
	})
}

func (u *UpdateLog) handle(events []cache.Event[*tag.Tag]) {
	records := make([]Record, 0, len(events))
	for _, ev := range events {
		if ev.Kind != cache.EventUpdated {
			continue
		}
		records = append(records, RecordFrom(ev.Value))
	}
	if len(records) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := u.Write(ctx, records); err != nil {
		u.logger.Warn("update log write failed", "records", len(records), "error", err)
		u.spill(records)
	}
}

// Write appends records to tag_log in one transaction.
func (u *UpdateLog) Write(ctx context.Context, records []Record) error {
	u.writeMu.Lock()
	defer u.writeMu.Unlock()
	return u.write(ctx, records)
}

func (u *UpdateLog) write(ctx context.Context, records []Record) (err error) {
	start := time.Now()
	defer func() {
		if err != nil {
			u.metrics.writes.WithLabelValues(outcomeFailed).Inc()
			return
		}
		u.metrics.writes.WithLabelValues(outcomeOK).Inc()
		u.metrics.records.Add(float64(len(records)))
		u.metrics.duration.Observe(time.Since(start).Seconds())
	}()

	tx, err := u.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning update log transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tag_log (tag_id, value, value_description, quality, source_ts, daq_ts, cache_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing update log insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		value, err := encodeJSON(r.Value)
		if err != nil {
			return fmt.Errorf("encoding value of tag %d: %w", r.TagID, err)
		}
		var quality sql.NullString
		if len(r.Quality) > 0 {
			if quality, err = encodeJSON(r.Quality); err != nil {
				return fmt.Errorf("encoding quality of tag %d: %w", r.TagID, err)
			}
		}
		cacheTS := r.CacheTimestamp
		if cacheTS.IsZero() {
			cacheTS = u.now()
		}
		if _, err := stmt.ExecContext(ctx, r.TagID, value, nullString(r.ValueDescription), quality,
			formatTime(r.SourceTimestamp), formatTime(r.DAQTimestamp), formatTime(cacheTS)); err != nil {
			return fmt.Errorf("inserting update of tag %d: %w", r.TagID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing update log: %w", err)
	}
	return nil
}

func (u *UpdateLog) spill(records []Record) {
	if u.fallback == nil {
		u.metrics.lost.Add(float64(len(records)))
		u.logger.Error("update log records lost", "records", len(records))
		return
	}

	encoded := make([][]byte, 0, len(records))
	for _, r := range records {
		b, err := json.Marshal(r)
		if err != nil {
			u.metrics.lost.Inc()
			u.logger.Error("encoding fallback record", "tag_id", r.TagID, "error", err)
			continue
		}
		encoded = append(encoded, b)
	}

	dropped, err := u.fallback.Append(encoded)
	if err != nil {
		u.metrics.lost.Add(float64(len(encoded)))
		u.logger.Error("fallback append failed", "records", len(encoded), "error", err)
		return
	}
	u.metrics.spilled.Add(float64(len(encoded)))
	if dropped > 0 {
		u.metrics.lost.Add(float64(dropped))
		u.logger.Warn("fallback full, oldest records dropped", "dropped", dropped)
	}
	if n, err := u.fallback.Len(); err == nil {
		u.metrics.pending.Set(float64(n))
	}
}

// Replay moves records held in the fallback store into tag_log.
// It stops at the first batch the database refuses and returns the number
// of records written.
func (u *UpdateLog) Replay(ctx context.Context) (int, error) {
	if u.fallback == nil {
		return 0, nil
	}

	u.writeMu.Lock()
	defer u.writeMu.Unlock()

	n, err := u.fallback.Drain(ctx, replayBatch, func(batch [][]byte) error {
		records := make([]Record, 0, len(batch))
		for _, b := range batch {
			var r Record
			if err := json.Unmarshal(b, &r); err != nil {
				// A record that cannot be decoded would block the queue forever.
				u.metrics.lost.Inc()
				u.logger.Error("discarding undecodable fallback record", "error", err)
				continue
			}
			records = append(records, r)
		}
		if len(records) == 0 {
			return nil
		}
		return u.write(ctx, records)
	})
	u.metrics.replayed.Add(float64(n))
	if pending, lerr := u.fallback.Len(); lerr == nil {
		u.metrics.pending.Set(float64(pending))
	}
	if err != nil {
		return n, fmt.Errorf("replaying fallback records: %w", err)
	}
	return n, nil
}

func (u *UpdateLog) replayLoop(ctx context.Context) {
	defer u.wg.Done()

	ticker := time.NewTicker(u.cfg.ReplayInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pending, err := u.fallback.Len()
			if err != nil || pending == 0 {
				continue
			}
			n, err := u.Replay(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				u.logger.Warn("fallback replay incomplete", "replayed", n, "error", err)
				continue
			}
			if n > 0 {
				u.logger.Info("fallback records replayed", "replayed", n)
			}
		}
	}
}

// Purge deletes tag_log rows older than the retention period.
func (u *UpdateLog) Purge(ctx context.Context) (int64, error) {
	cutoff := u.now().Add(-u.cfg.Retention)
	res, err := u.db.ExecContext(ctx, "DELETE FROM tag_log WHERE cache_ts < ?", formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("purging update log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	u.metrics.purged.Add(float64(n))
	return n, nil
}

// NextPurge returns the first scheduled purge after t.
func (u *UpdateLog) NextPurge(t time.Time) time.Time {
	return u.schedule.Next(t)
}

func (u *UpdateLog) purgeLoop(ctx context.Context) {
	defer u.wg.Done()

	for {
		next := u.schedule.Next(u.now())
		if next.IsZero() {
			u.logger.Warn("purge schedule has no future run", "schedule", u.cfg.PurgeSchedule)
			return
		}
		timer := time.NewTimer(next.Sub(u.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		n, err := u.Purge(ctx)
		if err != nil {
			u.logger.Error("update log purge failed", "error", err)
			continue
		}
		u.logger.Info("update log purged", "rows", n, "retention", u.cfg.Retention.String())
	}
}

// History returns the logged updates of one tag since the given time,
// newest first, at most limit rows.
func (u *UpdateLog) History(ctx context.Context, tagID int64, since time.Time, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := u.db.QueryContext(ctx, `
		SELECT value, value_description, quality, source_ts, daq_ts, cache_ts
		FROM tag_log
		WHERE tag_id = ? AND cache_ts >= ?
		ORDER BY cache_ts DESC, seq DESC
		LIMIT ?`, tagID, since.UTC().Format(timeLayout), limit)
	if err != nil {
		return nil, fmt.Errorf("querying history of tag %d: %w", tagID, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r := Record{TagID: tagID}
		var value, desc, quality, sourceTS, daqTS, cacheTS sql.NullString
		if err := rows.Scan(&value, &desc, &quality, &sourceTS, &daqTS, &cacheTS); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		r.ValueDescription = desc.String
		if err := decodeJSON(value, &r.Value); err != nil {
			return nil, err
		}
		if err := decodeJSON(quality, &r.Quality); err != nil {
			return nil, err
		}
		for _, ts := range []struct {
			src  sql.NullString
			into *time.Time
		}{{sourceTS, &r.SourceTimestamp}, {daqTS, &r.DAQTimestamp}, {cacheTS, &r.CacheTimestamp}} {
			if *ts.into, err = parseTime(ts.src); err != nil {
				return nil, err
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history rows: %w", err)
	}
	return out, nil
}

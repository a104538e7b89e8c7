// Package metrics provides a lightweight persistent metrics manager.
// It batches counter and summary observations in memory and periodically
// flushes them to a dedicated SQLite database. Only monotonic counters and
// (count,sum,min,max) summaries are supported.
package metrics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/haukened/blockvault/internal/app"
)

var _ app.Recorder = (*Manager)(nil)

// CounterDropped counts events discarded because the queue was full.
const CounterDropped = "metrics_events_dropped_total"

// Config controls flush cadence and logging.
type Config struct {
	FlushInterval time.Duration
	QueueSize     int
	Logger        *slog.Logger
}

// Summary aggregates observations of one metric.
type Summary struct {
	Count int64 `json:"count"`
	Sum   int64 `json:"sum"`
	Min   int64 `json:"min"`
	Max   int64 `json:"max"`
}

func (s *Summary) merge(o Summary) {
	if s.Count == 0 {
		*s = o
		return
	}
	s.Count += o.Count
	s.Sum += o.Sum
	s.Min = min(s.Min, o.Min)
	s.Max = max(s.Max, o.Max)
}

// Snapshot is the persisted state with unflushed deltas layered on top.
type Snapshot struct {
	Counters  map[string]int64   `json:"counters"`
	Summaries map[string]Summary `json:"summaries"`
}

// Manager aggregates metric events and flushes them. Inc and Observe never
// block; events beyond the queue capacity are dropped and counted.
type Manager struct {
	cfg  Config
	db   *sql.DB
	log  *slog.Logger
	once sync.Once

	events chan event
	stop   chan struct{}
	done   chan struct{}

	mu        sync.Mutex
	started   bool
	dropped   int64
	counters  map[string]int64
	summaries map[string]Summary
}

type eventKind int

const (
	eventInc eventKind = iota + 1
	eventObserve
)

type event struct {
	kind eventKind
	name string
	v    int64
}

// New creates a Manager. Call Start to begin background flushing.
func New(db *sql.DB, cfg Config) *Manager {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		cfg:       cfg,
		db:        db,
		log:       cfg.Logger.With("domain", "metrics"),
		events:    make(chan event, cfg.QueueSize),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		counters:  make(map[string]int64),
		summaries: make(map[string]Summary),
	}
}

// InitSchema ensures metrics tables exist.
func (m *Manager) InitSchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS metrics_counters (
		name TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	)`,
		`CREATE TABLE IF NOT EXISTS metrics_summaries (
		name TEXT PRIMARY KEY,
		count INTEGER NOT NULL,
		sum INTEGER NOT NULL,
		min INTEGER NOT NULL,
		max INTEGER NOT NULL
	)`,
	}
	for _, stmt := range ddl {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init metrics schema: %w", err)
		}
	}
	return nil
}

// Start launches the background flush loop. Subsequent calls are no-ops.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	go m.loop(ctx)
}

// Stop ends the flush loop, applies queued events and performs a final flush.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if started {
		m.once.Do(func() { close(m.stop) })
		<-m.done
	}
	m.drain()
	return m.flush(ctx)
}

// Inc increments a counter by delta. Non-positive deltas are ignored.
func (m *Manager) Inc(name string, delta int64) {
	if delta <= 0 {
		return
	}
	m.enqueue(event{kind: eventInc, name: name, v: delta})
}

// Observe records a summary observation.
func (m *Manager) Observe(name string, value int64) {
	m.enqueue(event{kind: eventObserve, name: name, v: value})
}

func (m *Manager) enqueue(ev event) {
	select {
	case m.events <- ev:
	default:
		m.mu.Lock()
		m.dropped++
		m.mu.Unlock()
	}
}

func (m *Manager) loop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.FlushInterval)
	defer func() {
		ticker.Stop()
		close(m.done)
	}()
	for {
		select {
		case <-ctx.Done():
			m.log.Info("metrics stop", "reason", "context_cancel")
			return
		case <-m.stop:
			m.log.Info("metrics stop", "reason", "stop_signal")
			return
		case ev := <-m.events:
			m.apply(ev)
		case <-ticker.C:
			if err := m.flush(ctx); err != nil && !errors.Is(err, context.Canceled) {
				m.log.Error("flush", "error", err)
			}
		}
	}
}

// drain applies every event still queued.
func (m *Manager) drain() {
	for {
		select {
		case ev := <-m.events:
			m.apply(ev)
		default:
			return
		}
	}
}

func (m *Manager) apply(ev event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch ev.kind {
	case eventInc:
		m.counters[ev.name] += ev.v
	case eventObserve:
		agg := m.summaries[ev.name]
		agg.merge(Summary{Count: 1, Sum: ev.v, Min: ev.v, Max: ev.v})
		m.summaries[ev.name] = agg
	}
}

// Snapshot returns persisted state with in-memory deltas layered on top.
func (m *Manager) Snapshot(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{Counters: map[string]int64{}, Summaries: map[string]Summary{}}
	rows, err := m.db.QueryContext(ctx, `SELECT name, value FROM metrics_counters`)
	if err != nil {
		return Snapshot{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			n string
			v int64
		)
		if err := rows.Scan(&n, &v); err != nil {
			return Snapshot{}, err
		}
		snap.Counters[n] = v
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, err
	}

	srows, err := m.db.QueryContext(ctx, `SELECT name, count, sum, min, max FROM metrics_summaries`)
	if err != nil {
		return Snapshot{}, err
	}
	defer srows.Close()
	for srows.Next() {
		var (
			n string
			s Summary
		)
		if err := srows.Scan(&n, &s.Count, &s.Sum, &s.Min, &s.Max); err != nil {
			return Snapshot{}, err
		}
		snap.Summaries[n] = s
	}
	if err := srows.Err(); err != nil {
		return Snapshot{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for n, v := range m.counters {
		snap.Counters[n] += v
	}
	if m.dropped > 0 {
		snap.Counters[CounterDropped] += m.dropped
	}
	for n, agg := range m.summaries {
		cur := snap.Summaries[n]
		cur.merge(agg)
		snap.Summaries[n] = cur
	}
	return snap, nil
}

// flush writes in-memory deltas in a single transaction and resets them. On
// failure the deltas are restored so the next flush retries them.
func (m *Manager) flush(ctx context.Context) error {
	m.mu.Lock()
	if m.dropped > 0 {
		m.counters[CounterDropped] += m.dropped
		m.dropped = 0
	}
	if len(m.counters) == 0 && len(m.summaries) == 0 {
		m.mu.Unlock()
		return nil
	}
	counters, summaries := m.counters, m.summaries
	m.counters = make(map[string]int64)
	m.summaries = make(map[string]Summary)
	m.mu.Unlock()

	if err := m.write(ctx, counters, summaries); err != nil {
		m.restore(counters, summaries)
		return err
	}
	return nil
}

func (m *Manager) write(ctx context.Context, counters map[string]int64, summaries map[string]Summary) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for name, delta := range counters {
		if _, err := tx.ExecContext(ctx, `INSERT INTO metrics_counters(name,value) VALUES(?,?) ON CONFLICT(name) DO UPDATE SET value = value + excluded.value`, name, delta); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	for name, agg := range summaries {
		if _, err := tx.ExecContext(ctx, `INSERT INTO metrics_summaries(name,count,sum,min,max) VALUES(?,?,?,?,?) ON CONFLICT(name) DO UPDATE SET count = metrics_summaries.count + excluded.count, sum = metrics_summaries.sum + excluded.sum, min = MIN(metrics_summaries.min, excluded.min), max = MAX(metrics_summaries.max, excluded.max)`, name, agg.Count, agg.Sum, agg.Min, agg.Max); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (m *Manager) restore(counters map[string]int64, summaries map[string]Summary) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for n, v := range counters {
		m.counters[n] += v
	}
	for n, agg := range summaries {
		cur := m.summaries[n]
		cur.merge(agg)
		m.summaries[n] = cur
	}
}

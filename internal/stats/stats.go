// Package stats reports sync health: queue depth, failed entries, oldest
// pending age, connectivity, and the outcome of the most recent drain. It
// doubles as the Prometheus instrumentation point.
package stats

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coachtools/matchsync/internal/connectivity"
	"github.com/coachtools/matchsync/internal/engine"
	"github.com/coachtools/matchsync/internal/model"
	"github.com/coachtools/matchsync/internal/storage"
)

// Snapshot is a point-in-time view of sync health.
type Snapshot struct {
	Online           bool               `json:"online"`
	Pending          int                `json:"pending"`
	Failed           int                `json:"failed"`
	OldestPendingAge time.Duration      `json:"oldestPendingAge"`
	LastDrainAt      time.Time          `json:"lastDrainAt,omitempty"`
	LastDrain        engine.DrainResult `json:"lastDrain"`
	FailedEntries    []FailedEntry      `json:"failedEntries,omitempty"`
	CollectedAt      time.Time          `json:"collectedAt"`
}

// FailedEntry describes one terminally failed queue entry, for surfacing to
// the user so the underlying mutation is not silently lost.
type FailedEntry struct {
	ID         int64           `json:"id"`
	Op         model.Operation `json:"op"`
	Kind       model.Kind      `json:"kind"`
	EntityID   string          `json:"entityId"`
	Retries    int             `json:"retries"`
	LastError  string          `json:"lastError"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
}

// Reporter builds snapshots from the local store and keeps the Prometheus
// gauges and counters current. It implements engine.Events so drain outcomes
// flow into the counters as they happen.
type Reporter struct {
	db      *storage.DB
	monitor connectivity.Monitor

	registry *prometheus.Registry

	pending   prometheus.Gauge
	failed    prometheus.Gauge
	oldestAge prometheus.Gauge
	online    prometheus.Gauge

	drains        prometheus.Counter
	applied       prometheus.Counter
	failures      prometheus.Counter
	terminal      prometheus.Counter
	remapped      prometheus.Counter
	drainDuration prometheus.Histogram

	mu          sync.Mutex
	lastDrain   engine.DrainResult
	lastDrainAt time.Time
}

// New creates a Reporter with its own metrics registry.
func New(db *storage.DB, monitor connectivity.Monitor) *Reporter {
	r := &Reporter{
		db:       db,
		monitor:  monitor,
		registry: prometheus.NewRegistry(),

		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "matchsync_queue_pending",
			Help: "Number of queue entries waiting to sync.",
		}),
		failed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "matchsync_queue_failed",
			Help: "Number of terminally failed queue entries.",
		}),
		oldestAge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "matchsync_queue_oldest_pending_age_seconds",
			Help: "Age of the oldest pending queue entry.",
		}),
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "matchsync_online",
			Help: "1 when the backend is reachable, 0 otherwise.",
		}),
		drains: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matchsync_drains_total",
			Help: "Number of completed drain passes.",
		}),
		applied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matchsync_entries_applied_total",
			Help: "Queue entries successfully applied to the backend.",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matchsync_entry_failures_total",
			Help: "Queue entry attempts that failed.",
		}),
		terminal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matchsync_entry_terminal_failures_total",
			Help: "Queue entries that failed terminally.",
		}),
		remapped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matchsync_ids_remapped_total",
			Help: "Local identifiers remapped to backend identifiers.",
		}),
		drainDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "matchsync_drain_duration_seconds",
			Help:    "Duration of drain passes.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
	}

	r.registry.MustRegister(
		r.pending, r.failed, r.oldestAge, r.online,
		r.drains, r.applied, r.failures, r.terminal, r.remapped,
		r.drainDuration,
	)
	return r
}

// MetricsHandler serves the registry in Prometheus exposition format.
func (r *Reporter) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// OnDrainComplete implements engine.Events.
func (r *Reporter) OnDrainComplete(result engine.DrainResult) {
	r.mu.Lock()
	r.lastDrain = result
	r.lastDrainAt = time.Now().UTC()
	r.mu.Unlock()

	r.drains.Inc()
	r.applied.Add(float64(result.Applied))
	r.failures.Add(float64(result.Failed))
	r.terminal.Add(float64(result.TerminalFailures))
	r.remapped.Add(float64(result.Remapped))
	r.drainDuration.Observe(result.Duration.Seconds())
}

// OnEntryFailed implements engine.Events. Per-attempt failures are already
// counted from the drain result; nothing extra is needed here.
func (r *Reporter) OnEntryFailed(entry *model.QueueEntry, terminal bool) {}

// Collect builds a snapshot from the queue tables and refreshes the gauges.
func (r *Reporter) Collect(ctx context.Context) (*Snapshot, error) {
	pending, err := r.db.PendingCount(ctx)
	if err != nil {
		return nil, err
	}
	failedCount, err := r.db.FailedCount(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var oldestAge time.Duration
	oldest, err := r.db.OldestPendingEnqueuedAt(ctx)
	switch {
	case err == nil:
		oldestAge = now.Sub(oldest)
	case errors.Is(err, storage.ErrNotFound):
		// empty queue
	default:
		return nil, err
	}

	failedEntries, err := r.db.ListFailed(ctx)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Online:           r.monitor.IsOnline(),
		Pending:          pending,
		Failed:           failedCount,
		OldestPendingAge: oldestAge,
		CollectedAt:      now,
	}
	for _, entry := range failedEntries {
		snap.FailedEntries = append(snap.FailedEntries, FailedEntry{
			ID:         entry.ID,
			Op:         entry.Op,
			Kind:       entry.Kind,
			EntityID:   entry.EntityID,
			Retries:    entry.Retries,
			LastError:  entry.LastError,
			EnqueuedAt: entry.EnqueuedAt,
		})
	}

	r.mu.Lock()
	snap.LastDrain = r.lastDrain
	snap.LastDrainAt = r.lastDrainAt
	r.mu.Unlock()

	r.pending.Set(float64(snap.Pending))
	r.failed.Set(float64(snap.Failed))
	r.oldestAge.Set(oldestAge.Seconds())
	if snap.Online {
		r.online.Set(1)
	} else {
		r.online.Set(0)
	}

	return snap, nil
}

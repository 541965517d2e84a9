package store

import (
	"context"
	"log/slog"
	"sync"

	"vigil/internal/models"
)

// DefaultQueueCap bounds each of the flusher's in-memory queues.
const DefaultQueueCap = 10000

// Flusher batches history items in memory and writes them out on a flush
// cycle. Producers never block on the database: a failed flush leaves the
// batch queued for the next cycle, and sustained overflow drops the oldest
// items while counting the loss.
type Flusher struct {
	repo     *Repository
	log      *slog.Logger
	queueCap int

	// onDropped, when set, is told once per flush how many items were
	// discarded since the previous flush. The app points it back at the
	// recorder so the loss shows up as a metric.
	onDropped func(count int)

	mu      sync.Mutex
	metrics []models.Metric
	alerts  []models.Alert
	recs    []models.ScalingRecommendation
	reports []models.HealthReport
	dropped int
}

func NewFlusher(repo *Repository, logger *slog.Logger, queueCap int) *Flusher {
	if queueCap <= 0 {
		queueCap = DefaultQueueCap
	}
	return &Flusher{repo: repo, log: logger, queueCap: queueCap}
}

// OnDropped registers the overflow callback. Call before the loops start.
func (f *Flusher) OnDropped(fn func(count int)) { f.onDropped = fn }

func (f *Flusher) EnqueueMetric(m models.Metric) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.metrics) >= f.queueCap {
		f.metrics = f.metrics[1:]
		f.dropped++
	}
	f.metrics = append(f.metrics, m)
}

func (f *Flusher) EnqueueAlert(a models.Alert) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.alerts) >= f.queueCap {
		f.alerts = f.alerts[1:]
		f.dropped++
	}
	f.alerts = append(f.alerts, a)
}

func (f *Flusher) EnqueueRecommendations(recs []models.ScalingRecommendation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range recs {
		if len(f.recs) >= f.queueCap {
			f.recs = f.recs[1:]
			f.dropped++
		}
		f.recs = append(f.recs, rec)
	}
}

func (f *Flusher) EnqueueReport(rep models.HealthReport) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.reports) >= f.queueCap {
		f.reports = f.reports[1:]
		f.dropped++
	}
	f.reports = append(f.reports, rep)
}

// Pending returns the queued item count across all queues.
func (f *Flusher) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.metrics) + len(f.alerts) + len(f.recs) + len(f.reports)
}

// Flush writes all queued items. Batches that fail stay queued and are
// retried next cycle.
func (f *Flusher) Flush(ctx context.Context) {
	f.mu.Lock()
	metrics := f.metrics
	alerts := f.alerts
	recs := f.recs
	reports := f.reports
	dropped := f.dropped
	f.metrics, f.alerts, f.recs, f.reports = nil, nil, nil, nil
	f.dropped = 0
	f.mu.Unlock()

	if dropped > 0 {
		f.log.Warn("history queue overflowed", "dropped", dropped)
		if f.onDropped != nil {
			f.onDropped(dropped)
		}
	}

	if err := f.repo.InsertMetrics(ctx, metrics); err != nil {
		f.log.Error("flush metrics", "err", err, "count", len(metrics))
		f.requeueMetrics(metrics)
	}
	if err := f.repo.UpsertAlerts(ctx, alerts); err != nil {
		f.log.Error("flush alerts", "err", err, "count", len(alerts))
		f.requeueAlerts(alerts)
	}
	if err := f.repo.InsertRecommendations(ctx, recs); err != nil {
		f.log.Error("flush recommendations", "err", err, "count", len(recs))
		f.requeueRecs(recs)
	}
	for _, rep := range reports {
		if err := f.repo.InsertReport(ctx, rep); err != nil {
			f.log.Error("flush report", "err", err, "id", rep.ID)
			f.EnqueueReport(rep)
		}
	}
}

func (f *Flusher) requeueMetrics(batch []models.Metric) {
	f.mu.Lock()
	defer f.mu.Unlock()
	merged := append(batch, f.metrics...)
	if over := len(merged) - f.queueCap; over > 0 {
		merged = merged[over:]
		f.dropped += over
	}
	f.metrics = merged
}

func (f *Flusher) requeueAlerts(batch []models.Alert) {
	f.mu.Lock()
	defer f.mu.Unlock()
	merged := append(batch, f.alerts...)
	if over := len(merged) - f.queueCap; over > 0 {
		merged = merged[over:]
		f.dropped += over
	}
	f.alerts = merged
}

func (f *Flusher) requeueRecs(batch []models.ScalingRecommendation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	merged := append(batch, f.recs...)
	if over := len(merged) - f.queueCap; over > 0 {
		merged = merged[over:]
		f.dropped += over
	}
	f.recs = merged
}

// Package vigil is an embeddable metrics, alerting and auto-scaling
// recommendation engine. An Engine instance owns its own rule registry and
// metric storage, so multiple engines coexist in one process.
package vigil

import (
	"io"
	"log/slog"
	"time"

	"vigil/internal/alerts"
	"vigil/internal/models"
	"vigil/internal/recorder"
	"vigil/internal/report"
	"vigil/internal/scaling"
)

// Re-exported types so embedders only import this package.
type (
	Metric                = models.Metric
	MetricKind            = models.MetricKind
	Stats                 = models.Stats
	AlertRule             = models.AlertRule
	Alert                 = models.Alert
	Severity              = models.Severity
	Comparison            = models.Comparison
	ScalingRule           = models.ScalingRule
	ScalingRecommendation = models.ScalingRecommendation
	HealthReport          = models.HealthReport
	ConfigError           = models.ConfigError
	Subscriber            = alerts.Subscriber
)

const (
	KindCounter   = models.KindCounter
	KindGauge     = models.KindGauge
	KindHistogram = models.KindHistogram
	KindTimer     = models.KindTimer

	CompareGreaterThan = models.CompareGreaterThan
	CompareLessThan    = models.CompareLessThan
	CompareEquals      = models.CompareEquals

	SeverityInfo      = models.SeverityInfo
	SeverityWarning   = models.SeverityWarning
	SeverityCritical  = models.SeverityCritical
	SeverityEmergency = models.SeverityEmergency
)

type Engine struct {
	rec     *recorder.Recorder
	alerts  *alerts.Engine
	scaler  *scaling.Scaler
	reports *report.Generator
	log     *slog.Logger
	now     func() time.Time

	// hook sees every recorded metric; the daemon points it at the
	// persistence queue. Set before recording starts.
	hook func(models.Metric)
}

type options struct {
	logger          *slog.Logger
	bufferCapacity  int
	scalingCooldown time.Duration
	clock           func() time.Time
}

type Option func(*options)

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithBufferCapacity sets the per-metric ring size.
func WithBufferCapacity(n int) Option {
	return func(o *options) { o.bufferCapacity = n }
}

// WithScalingCooldown sets the minimum interval between recommendations
// for the same resource.
func WithScalingCooldown(d time.Duration) Option {
	return func(o *options) { o.scalingCooldown = d }
}

// WithClock injects a time source for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

func New(opts ...Option) *Engine {
	o := options{
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		bufferCapacity:  recorder.DefaultCapacity,
		scalingCooldown: scaling.DefaultCooldown,
	}
	for _, opt := range opts {
		opt(&o)
	}

	rec := recorder.New(o.bufferCapacity)
	ae := alerts.NewEngine(rec, o.logger.With("module", "alerts"))
	sc := scaling.NewScaler(rec, o.logger.With("module", "scaling"), o.scalingCooldown)
	rg := report.NewGenerator(rec, ae, sc, o.logger.With("module", "report"))
	if o.clock != nil {
		rec.SetClock(o.clock)
		ae.SetClock(o.clock)
		sc.SetClock(o.clock)
		rg.SetClock(o.clock)
	}
	now := o.clock
	if now == nil {
		now = time.Now
	}
	return &Engine{rec: rec, alerts: ae, scaler: sc, reports: rg, log: o.logger, now: now}
}

// SetMetricHook registers a callback invoked for every recorded metric
// after tag bounding. Used to mirror samples into a persistence sink.
func (e *Engine) SetMetricHook(fn func(models.Metric)) { e.hook = fn }

// RecordMetric ingests one sample. A zero timestamp means now.
func (e *Engine) RecordMetric(name string, kind models.MetricKind, value float64, tags map[string]string) {
	m := models.Metric{Name: name, Kind: kind, Value: value, TS: e.now().UTC(), Tags: models.BoundTags(tags)}
	e.rec.Record(m)
	if e.hook != nil {
		e.hook(m)
	}
}

// RecordMetricAt ingests a sample with an explicit timestamp, for
// backfill and replay producers.
func (e *Engine) RecordMetricAt(name string, kind models.MetricKind, value float64, tags map[string]string, ts time.Time) {
	m := models.Metric{Name: name, Kind: kind, Value: value, TS: ts.UTC(), Tags: models.BoundTags(tags)}
	e.rec.Record(m)
	if e.hook != nil {
		e.hook(m)
	}
}

// GetStats returns windowed statistics for one metric; ok is false when
// the window holds no samples.
func (e *Engine) GetStats(name string, window time.Duration) (models.Stats, bool) {
	return e.rec.Stats(name, window)
}

func (e *Engine) AddAlertRule(r models.AlertRule) error       { return e.alerts.AddRule(r) }
func (e *Engine) RemoveAlertRule(identity string) bool        { return e.alerts.RemoveRule(identity) }
func (e *Engine) AlertRules() []models.AlertRule              { return e.alerts.Rules() }
func (e *Engine) ActiveAlerts() []models.Alert                { return e.alerts.Active() }
func (e *Engine) AlertsInRange(s, t time.Time) []models.Alert { return e.alerts.InRange(s, t) }

// Subscribe registers a callback receiving alerts on trigger and resolve.
func (e *Engine) Subscribe(s Subscriber) { e.alerts.Subscribe(s) }

// EvaluateAlerts runs every alert rule once.
func (e *Engine) EvaluateAlerts() { e.alerts.Evaluate() }

func (e *Engine) AddScalingRule(r models.ScalingRule) error { return e.scaler.AddRule(r) }
func (e *Engine) RemoveScalingRule(resource string) bool    { return e.scaler.RemoveRule(resource) }
func (e *Engine) ScalingRules() []models.ScalingRule        { return e.scaler.Rules() }
func (e *Engine) Recommendations() []models.ScalingRecommendation {
	return e.scaler.History()
}

// EvaluateScaling checks every scaling rule against the supplied current
// capacities and returns new recommendations.
func (e *Engine) EvaluateScaling(capacities map[string]int) []models.ScalingRecommendation {
	return e.scaler.Evaluate(capacities)
}

// GenerateReport builds a health report over [start, end].
func (e *Engine) GenerateReport(start, end time.Time, capacities map[string]int) (models.HealthReport, error) {
	return e.reports.Generate(start, end, capacities)
}

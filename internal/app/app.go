// Package app wires the engine, sampler and persistence sink together and
// runs the daemon loops.
package app

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"vigil"
	"vigil/internal/config"
	"vigil/internal/models"
	"vigil/internal/sampler"
	"vigil/internal/store"
)

// CapacityProvider reports current capacity per resource type for the
// scaling evaluation loop. Without one, scaling only runs on demand.
type CapacityProvider func() map[string]int

type App struct {
	cfg config.Config
	log *slog.Logger

	engine  *vigil.Engine
	sampler *sampler.Service
	repo    *store.Repository
	flusher *store.Flusher
	db      *sql.DB

	capacities CapacityProvider
}

func New(cfg config.Config, logger *slog.Logger) (*App, error) {
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	repo := store.NewRepository(db)
	flusher := store.NewFlusher(repo, logger.With("module", "store"), cfg.QueueCapacity)

	engine := vigil.New(
		vigil.WithLogger(logger),
		vigil.WithBufferCapacity(cfg.BufferCapacity),
		vigil.WithScalingCooldown(cfg.ScalingCooldown),
	)
	engine.SetMetricHook(flusher.EnqueueMetric)
	engine.Subscribe(func(a models.Alert) error {
		flusher.EnqueueAlert(a)
		return nil
	})
	flusher.OnDropped(func(n int) {
		engine.RecordMetric(models.DroppedMetric, models.KindCounter, float64(n), nil)
	})

	a := &App{
		cfg:     cfg,
		log:     logger,
		engine:  engine,
		sampler: sampler.NewService(sampler.NewHostSampler(), engine, logger.With("module", "sampler"), cfg.SamplerTimeout),
		repo:    repo,
		flusher: flusher,
		db:      db,
	}
	if cfg.SeedDefaults {
		if err := a.seedDefaultRules(); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return a, nil
}

// Engine exposes the embedded engine for rule management and reporting.
func (a *App) Engine() *vigil.Engine { return a.engine }

// Repository exposes the history store read paths.
func (a *App) Repository() *store.Repository { return a.repo }

// SetCapacityProvider enables scaling evaluation inside the daemon loop.
func (a *App) SetCapacityProvider(p CapacityProvider) { a.capacities = p }

// GenerateReport builds a report and queues it for persistence.
func (a *App) GenerateReport(start, end time.Time) (models.HealthReport, error) {
	var caps map[string]int
	if a.capacities != nil {
		caps = a.capacities()
	}
	rep, err := a.engine.GenerateReport(start, end, caps)
	if err != nil {
		return models.HealthReport{}, err
	}
	a.flusher.EnqueueReport(rep)
	return rep, nil
}

// Run drives the three loops until ctx is canceled: sampling, alert and
// scaling evaluation, and persistence flush with retention pruning. An
// in-flight tick completes before Run returns.
func (a *App) Run(ctx context.Context) error {
	sampleTicker := time.NewTicker(a.cfg.SampleInterval)
	evalTicker := time.NewTicker(a.cfg.EvaluateInterval)
	flushTicker := time.NewTicker(a.cfg.FlushInterval)
	defer sampleTicker.Stop()
	defer evalTicker.Stop()
	defer flushTicker.Stop()

	// Immediate first sample so the first evaluation has data.
	a.sampler.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			a.flusher.Flush(context.Background())
			a.log.Info("shutting down", "pending", a.flusher.Pending())
			return a.db.Close()
		case <-sampleTicker.C:
			a.sampler.Tick(ctx)
		case <-evalTicker.C:
			a.evaluate()
		case <-flushTicker.C:
			a.flushAndPrune(ctx)
		}
	}
}

func (a *App) evaluate() {
	a.engine.EvaluateAlerts()
	if a.capacities == nil {
		return
	}
	recs := a.engine.EvaluateScaling(a.capacities())
	if len(recs) > 0 {
		a.flusher.EnqueueRecommendations(recs)
	}
}

func (a *App) flushAndPrune(ctx context.Context) {
	a.flusher.Flush(ctx)
	cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.RetentionDays)
	if err := a.repo.PruneBefore(ctx, cutoff); err != nil {
		a.log.Error("retention pruning failed", "err", err)
	}
}

// seedDefaultRules installs a starter rule set when none are registered,
// so a fresh daemon alerts on the obvious host conditions out of the box.
func (a *App) seedDefaultRules() error {
	if len(a.engine.AlertRules()) > 0 {
		return nil
	}
	defaults := []models.AlertRule{
		{MetricName: models.MetricCPUPercent, Comparison: models.CompareGreaterThan, Threshold: 90,
			Severity: models.SeverityCritical, TimeWindow: 5 * time.Minute, MinSamples: 3, Cooldown: 10 * time.Minute},
		{MetricName: models.MetricMemoryPercent, Comparison: models.CompareGreaterThan, Threshold: 90,
			Severity: models.SeverityCritical, TimeWindow: 5 * time.Minute, MinSamples: 3, Cooldown: 10 * time.Minute},
		{MetricName: models.MetricDiskPercent, Comparison: models.CompareGreaterThan, Threshold: 85,
			Severity: models.SeverityWarning, TimeWindow: 15 * time.Minute, MinSamples: 3, Cooldown: 30 * time.Minute},
	}
	for _, r := range defaults {
		if err := a.engine.AddAlertRule(r); err != nil {
			return err
		}
	}
	return a.engine.AddScalingRule(models.ScalingRule{
		ResourceType:       "app",
		MetricName:         models.MetricCPUPercent,
		ScaleUpThreshold:   80,
		ScaleDownThreshold: 30,
		MinCapacity:        1,
		MaxCapacity:        10,
		ScalingFactor:      1.5,
	})
}

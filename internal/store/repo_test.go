package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/models"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, Migrate(db))
	return NewRepository(db)
}

func TestInsertAndQueryMetrics(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	err := repo.InsertMetrics(ctx, []models.Metric{
		{Name: "cpu", Kind: models.KindGauge, Value: 50, TS: now.Add(-2 * time.Hour)},
		{Name: "cpu", Kind: models.KindGauge, Value: 60, TS: now.Add(-time.Minute), Tags: map[string]string{"host": "a"}},
		{Name: "mem", Kind: models.KindGauge, Value: 70, TS: now},
	})
	require.NoError(t, err)

	got, err := repo.RecentMetrics(ctx, "cpu", now.Add(-10*time.Minute), 100)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 60.0, got[0].Value)
	assert.Equal(t, models.KindGauge, got[0].Kind)
	assert.Equal(t, "a", got[0].Tags["host"])
}

func TestAlertUpsertResolves(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	a := models.Alert{
		ID: "alert-1", RuleIdentity: "cpu|greater_than|80",
		Severity: models.SeverityCritical, Message: "cpu high", TriggeredAt: now,
	}
	require.NoError(t, repo.UpsertAlerts(ctx, []models.Alert{a}))

	resolvedAt := now.Add(5 * time.Minute)
	a.Resolved = true
	a.ResolvedAt = &resolvedAt
	require.NoError(t, repo.UpsertAlerts(ctx, []models.Alert{a}))

	got, err := repo.AlertsBetween(ctx, now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Resolved)
	require.NotNil(t, got[0].ResolvedAt)
	assert.Equal(t, resolvedAt, got[0].ResolvedAt.UTC())
}

func TestRecommendationsRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	recs := []models.ScalingRecommendation{
		{ID: "r1", Action: models.ActionScaleUp, ResourceType: "web", CurrentCapacity: 2, RecommendedCapacity: 3, Confidence: 0.2, Reasoning: "cpu high", TS: now},
		{ID: "r2", Action: models.ActionScaleDown, ResourceType: "web", CurrentCapacity: 3, RecommendedCapacity: 2, Confidence: 0.4, Reasoning: "cpu low", TS: now.Add(time.Minute)},
	}
	require.NoError(t, repo.InsertRecommendations(ctx, recs))
	require.NoError(t, repo.MarkRecommendationApplied(ctx, "r1"))

	got, err := repo.RecommendationsFor(ctx, "web", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "r2", got[0].ID) // newest first
	assert.Equal(t, models.ActionScaleDown, got[0].Action)
}

func TestInsertReport(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	rep := models.HealthReport{
		ID: "rep-1", Start: now.Add(-time.Hour), End: now,
		MetricsSummary: map[string]models.Stats{"cpu": {Count: 10, Mean: 50}},
		HealthScore:    100, GeneratedAt: now,
	}
	require.NoError(t, repo.InsertReport(ctx, rep))

	var score float64
	require.NoError(t, repo.DB().QueryRow(`SELECT score FROM reports WHERE id = 'rep-1'`).Scan(&score))
	assert.Equal(t, 100.0, score)
}

func TestPruneBeforeKeepsFiringAlerts(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	old := now.Add(-30 * 24 * time.Hour)
	resolvedAt := old.Add(time.Minute)

	require.NoError(t, repo.InsertMetrics(ctx, []models.Metric{
		{Name: "cpu", Kind: models.KindGauge, Value: 1, TS: old},
		{Name: "cpu", Kind: models.KindGauge, Value: 2, TS: now},
	}))
	require.NoError(t, repo.UpsertAlerts(ctx, []models.Alert{
		{ID: "old-resolved", RuleIdentity: "r", Severity: models.SeverityWarning, Message: "m", TriggeredAt: old, Resolved: true, ResolvedAt: &resolvedAt},
		{ID: "old-firing", RuleIdentity: "r", Severity: models.SeverityWarning, Message: "m", TriggeredAt: old},
	}))

	require.NoError(t, repo.PruneBefore(ctx, now.Add(-14*24*time.Hour)))

	metrics, err := repo.RecentMetrics(ctx, "cpu", old.Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, metrics, 1)
	assert.Equal(t, 2.0, metrics[0].Value)

	alerts, err := repo.AlertsBetween(ctx, old.Add(-time.Hour), now)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "old-firing", alerts[0].ID)
}

// Package report composes recorder, alert and scaling state into
// point-in-time health reports.
package report

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"vigil/internal/models"
)

// Fixed bottleneck thresholds.
const (
	cpuMediumThreshold = 80
	cpuHighThreshold   = 90
	memThreshold       = 85
	latencyP95Ceiling  = 30000 // ms
)

// trendChangeThreshold is the relative half-window change above which a
// metric is labeled up or down instead of stable.
const trendChangeThreshold = 0.10

// StatsSource is the read side of the metric recorder.
type StatsSource interface {
	StatsRange(name string, start, end time.Time) (models.Stats, bool)
}

// AlertSource lists alerts triggered inside a range.
type AlertSource interface {
	InRange(start, end time.Time) []models.Alert
}

// ScalerSource produces recommendations for caller-supplied capacities.
type ScalerSource interface {
	Evaluate(capacities map[string]int) []models.ScalingRecommendation
}

type Generator struct {
	stats  StatsSource
	alerts AlertSource
	scaler ScalerSource
	log    *slog.Logger
	now    func() time.Time
}

func NewGenerator(stats StatsSource, alerts AlertSource, scaler ScalerSource, logger *slog.Logger) *Generator {
	return &Generator{stats: stats, alerts: alerts, scaler: scaler, log: logger, now: time.Now}
}

// SetClock replaces the time source for deterministic tests.
func (g *Generator) SetClock(now func() time.Time) { g.now = now }

var keyMetrics = []string{
	models.MetricCPUPercent,
	models.MetricMemoryPercent,
	models.MetricDiskPercent,
	models.MetricNetBytesSent,
	models.MetricNetBytesRecv,
	models.MetricLatencyMS,
}

// Generate builds a health report over [start, end] using the supplied
// current capacities for scaling recommendations. Metrics without samples
// in the range are simply absent from the summary.
func (g *Generator) Generate(start, end time.Time, capacities map[string]int) (models.HealthReport, error) {
	if !end.After(start) {
		return models.HealthReport{}, &models.ConfigError{Field: "time_range", Reason: "end must be after start"}
	}

	rep := models.HealthReport{
		ID:             uuid.NewString(),
		Start:          start.UTC(),
		End:            end.UTC(),
		MetricsSummary: make(map[string]models.Stats),
		Bottlenecks:    []models.Bottleneck{},
		Trends:         make(map[string]models.Trend),
		GeneratedAt:    g.now().UTC(),
	}

	for _, name := range keyMetrics {
		st, ok := g.stats.StatsRange(name, start, end)
		if !ok {
			continue
		}
		rep.MetricsSummary[name] = st
		rep.Trends[name] = g.trend(name, start, end)
	}

	rep.Bottlenecks = bottlenecks(rep.MetricsSummary)
	rep.Alerts = g.alerts.InRange(start, end)
	rep.Recommendations = g.scaler.Evaluate(capacities)
	rep.HealthScore = healthScore(rep.MetricsSummary, rep.Alerts)

	g.log.Info("report generated", "id", rep.ID, "score", rep.HealthScore,
		"bottlenecks", len(rep.Bottlenecks), "alerts", len(rep.Alerts))
	return rep, nil
}

func bottlenecks(summary map[string]models.Stats) []models.Bottleneck {
	out := []models.Bottleneck{}
	if st, ok := summary[models.MetricCPUPercent]; ok {
		switch {
		case st.Mean > cpuHighThreshold:
			out = append(out, models.Bottleneck{
				Resource: "cpu", Severity: models.BottleneckHigh, Value: st.Mean,
				Description: fmt.Sprintf("cpu mean %.1f%% above %d%%", st.Mean, cpuHighThreshold),
			})
		case st.Mean > cpuMediumThreshold:
			out = append(out, models.Bottleneck{
				Resource: "cpu", Severity: models.BottleneckMedium, Value: st.Mean,
				Description: fmt.Sprintf("cpu mean %.1f%% above %d%%", st.Mean, cpuMediumThreshold),
			})
		}
	}
	if st, ok := summary[models.MetricMemoryPercent]; ok && st.Mean > memThreshold {
		out = append(out, models.Bottleneck{
			Resource: "memory", Severity: models.BottleneckHigh, Value: st.Mean,
			Description: fmt.Sprintf("memory mean %.1f%% above %d%%", st.Mean, memThreshold),
		})
	}
	if st, ok := summary[models.MetricLatencyMS]; ok && st.P95 > latencyP95Ceiling {
		out = append(out, models.Bottleneck{
			Resource: "latency", Severity: models.BottleneckHigh, Value: st.P95,
			Description: fmt.Sprintf("p95 latency %.0fms above %dms", st.P95, latencyP95Ceiling),
		})
	}
	return out
}

// healthScore starts at 100 and subtracts utilization, latency and alert
// penalties, floored at 0.
func healthScore(summary map[string]models.Stats, alerts []models.Alert) float64 {
	score := 100.0
	if st, ok := summary[models.MetricCPUPercent]; ok && st.Mean > cpuMediumThreshold {
		score -= 2 * (st.Mean - cpuMediumThreshold)
	}
	if st, ok := summary[models.MetricMemoryPercent]; ok && st.Mean > memThreshold {
		score -= 3 * (st.Mean - memThreshold)
	}
	if st, ok := summary[models.MetricLatencyMS]; ok && st.P95 > latencyP95Ceiling {
		score -= math.Min((st.P95-latencyP95Ceiling)/1000, 30)
	}
	for _, a := range alerts {
		switch a.Severity {
		case models.SeverityEmergency:
			score -= 25
		case models.SeverityCritical:
			score -= 15
		case models.SeverityWarning:
			score -= 5
		}
	}
	return math.Min(100, math.Max(0, score))
}

// trend compares the mean of the two halves of [start, end].
func (g *Generator) trend(name string, start, end time.Time) models.Trend {
	mid := start.Add(end.Sub(start) / 2)
	first, ok1 := g.stats.StatsRange(name, start, mid)
	second, ok2 := g.stats.StatsRange(name, mid, end)
	if !ok1 || !ok2 || first.Mean == 0 {
		return models.Trend{Direction: models.TrendStable}
	}
	change := (second.Mean - first.Mean) / math.Abs(first.Mean)
	t := models.Trend{Direction: models.TrendStable, ChangePct: change * 100}
	if change > trendChangeThreshold {
		t.Direction = models.TrendUp
	} else if change < -trendChangeThreshold {
		t.Direction = models.TrendDown
	}
	return t
}

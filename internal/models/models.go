package models

import (
	"sort"
	"strconv"
	"time"
)

// MaxTags bounds the number of tag pairs kept per metric so that high
// cardinality producers cannot grow memory without limit.
const MaxTags = 16

type MetricKind string

const (
	KindCounter   MetricKind = "counter"
	KindGauge     MetricKind = "gauge"
	KindHistogram MetricKind = "histogram"
	KindTimer     MetricKind = "timer"
)

type Metric struct {
	Name  string            `json:"name"`
	Kind  MetricKind        `json:"kind"`
	Value float64           `json:"value"`
	TS    time.Time         `json:"ts"`
	Tags  map[string]string `json:"tags,omitempty"`
}

// BoundTags returns at most MaxTags pairs, keeping the lexicographically
// smallest keys so truncation is deterministic.
func BoundTags(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return nil
	}
	if len(tags) <= MaxTags {
		out := make(map[string]string, len(tags))
		for k, v := range tags {
			out[k] = v
		}
		return out
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(map[string]string, MaxTags)
	for _, k := range keys[:MaxTags] {
		out[k] = tags[k]
	}
	return out
}

// Stats is a windowed aggregate over one metric's samples. An empty window
// is reported through the ok return of the queries, never as an error.
type Stats struct {
	Count         int     `json:"count"`
	Min           float64 `json:"min"`
	Max           float64 `json:"max"`
	Mean          float64 `json:"mean"`
	Median        float64 `json:"median"`
	StdDev        float64 `json:"stddev"`
	P95           float64 `json:"p95"`
	P99           float64 `json:"p99"`
	RatePerSecond float64 `json:"rate_per_second"`
}

type Severity string

const (
	SeverityInfo      Severity = "info"
	SeverityWarning   Severity = "warning"
	SeverityCritical  Severity = "critical"
	SeverityEmergency Severity = "emergency"
)

type Comparison string

const (
	CompareGreaterThan Comparison = "greater_than"
	CompareLessThan    Comparison = "less_than"
	CompareEquals      Comparison = "equals"
)

type AlertRule struct {
	MetricName string        `json:"metric_name"`
	Comparison Comparison    `json:"comparison"`
	Threshold  float64       `json:"threshold"`
	Severity   Severity      `json:"severity"`
	TimeWindow time.Duration `json:"time_window"`
	MinSamples int           `json:"min_samples"`
	Cooldown   time.Duration `json:"cooldown"`
}

// Identity is the upsert key for rules: re-registering the same
// (metric, comparison, threshold) replaces the previous definition.
func (r AlertRule) Identity() string {
	return r.MetricName + "|" + string(r.Comparison) + "|" + strconv.FormatFloat(r.Threshold, 'g', -1, 64)
}

type Alert struct {
	ID           string     `json:"id"`
	RuleIdentity string     `json:"rule_identity"`
	MetricName   string     `json:"metric_name"`
	Severity     Severity   `json:"severity"`
	Message      string     `json:"message"`
	CurrentValue float64    `json:"current_value"`
	Threshold    float64    `json:"threshold"`
	TriggeredAt  time.Time  `json:"triggered_at"`
	Resolved     bool       `json:"resolved"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
}

type ScalingAction string

const (
	ActionScaleUp   ScalingAction = "scale_up"
	ActionScaleDown ScalingAction = "scale_down"
)

type ScalingRule struct {
	ResourceType       string  `json:"resource_type"`
	MetricName         string  `json:"metric_name"`
	ScaleUpThreshold   float64 `json:"scale_up_threshold"`
	ScaleDownThreshold float64 `json:"scale_down_threshold"`
	MinCapacity        int     `json:"min_capacity"`
	MaxCapacity        int     `json:"max_capacity"`
	ScalingFactor      float64 `json:"scaling_factor"`
}

// EstimatedImpact is an advisory projection from the capacity ratio, not a
// measurement.
type EstimatedImpact struct {
	ThroughputChangePct    float64 `json:"throughput_change_pct"`
	LatencyChangePct       float64 `json:"latency_change_pct"`
	CostChangePct          float64 `json:"cost_change_pct"`
	ReliabilityImprovement float64 `json:"reliability_improvement"`
}

type ScalingRecommendation struct {
	ID                  string          `json:"id"`
	Action              ScalingAction   `json:"action"`
	ResourceType        string          `json:"resource_type"`
	CurrentCapacity     int             `json:"current_capacity"`
	RecommendedCapacity int             `json:"recommended_capacity"`
	Confidence          float64         `json:"confidence"`
	Reasoning           string          `json:"reasoning"`
	EstimatedImpact     EstimatedImpact `json:"estimated_impact"`
	TS                  time.Time       `json:"ts"`
}

type BottleneckSeverity string

const (
	BottleneckMedium BottleneckSeverity = "medium"
	BottleneckHigh   BottleneckSeverity = "high"
)

type Bottleneck struct {
	Resource    string             `json:"resource"`
	Severity    BottleneckSeverity `json:"severity"`
	Value       float64            `json:"value"`
	Description string             `json:"description"`
}

type TrendDirection string

const (
	TrendUp     TrendDirection = "up"
	TrendDown   TrendDirection = "down"
	TrendStable TrendDirection = "stable"
)

type Trend struct {
	Direction TrendDirection `json:"direction"`
	ChangePct float64        `json:"change_pct"`
}

type HealthReport struct {
	ID              string                  `json:"id"`
	Start           time.Time               `json:"start"`
	End             time.Time               `json:"end"`
	MetricsSummary  map[string]Stats        `json:"metrics_summary"`
	Bottlenecks     []Bottleneck            `json:"bottlenecks"`
	Recommendations []ScalingRecommendation `json:"recommendations"`
	Alerts          []Alert                 `json:"alerts"`
	HealthScore     float64                 `json:"health_score"`
	Trends          map[string]Trend        `json:"trends"`
	GeneratedAt     time.Time               `json:"generated_at"`
}

// Key metric names recorded by the sampler and consumed by the report
// generator's bottleneck and trend passes.
const (
	MetricCPUPercent    = "system.cpu.percent"
	MetricMemoryPercent = "system.memory.percent"
	MetricDiskPercent   = "system.disk.percent"
	MetricNetBytesSent  = "system.net.bytes_sent"
	MetricNetBytesRecv  = "system.net.bytes_recv"
	MetricLatencyMS     = "app.latency_ms"
)

// DroppedMetric counts history items discarded by the persistence queue on
// overflow. The engine records it through its own recorder.
const DroppedMetric = "vigil.persistence.dropped"

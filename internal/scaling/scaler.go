// Package scaling turns windowed metric statistics into capacity
// recommendations with cooldown and confidence.
package scaling

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"vigil/internal/models"
)

// DefaultCooldown is the minimum interval between recommendations for the
// same resource. It exists to prevent flapping, so it applies even when the
// thresholds are crossed on every evaluation in between.
const DefaultCooldown = 5 * time.Minute

// DefaultWindow is the stats window consulted per rule evaluation.
const DefaultWindow = 5 * time.Minute

// maxHistory bounds retained recommendations.
const maxHistory = 500

// StatsSource is the read side of the metric recorder.
type StatsSource interface {
	Stats(name string, window time.Duration) (models.Stats, bool)
}

type Scaler struct {
	stats    StatsSource
	log      *slog.Logger
	now      func() time.Time
	cooldown time.Duration
	window   time.Duration

	mu         sync.Mutex
	rules      map[string]models.ScalingRule
	lastScaled map[string]time.Time
	history    []models.ScalingRecommendation
}

func NewScaler(stats StatsSource, logger *slog.Logger, cooldown time.Duration) *Scaler {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Scaler{
		stats:      stats,
		log:        logger,
		now:        time.Now,
		cooldown:   cooldown,
		window:     DefaultWindow,
		rules:      make(map[string]models.ScalingRule),
		lastScaled: make(map[string]time.Time),
	}
}

// SetClock replaces the time source for deterministic tests.
func (s *Scaler) SetClock(now func() time.Time) { s.now = now }

// AddRule registers one rule per resource type; re-registering replaces it.
// Invalid definitions fail fast with a ConfigError.
func (s *Scaler) AddRule(r models.ScalingRule) error {
	if r.ResourceType == "" {
		return &models.ConfigError{Field: "resource_type", Reason: "must not be empty"}
	}
	if r.MetricName == "" {
		return &models.ConfigError{Field: "metric_name", Reason: "must not be empty"}
	}
	if r.ScaleUpThreshold <= r.ScaleDownThreshold {
		return &models.ConfigError{
			Field: "scale_up_threshold",
			Reason: fmt.Sprintf("%g must be greater than scale_down_threshold %g",
				r.ScaleUpThreshold, r.ScaleDownThreshold),
		}
	}
	if r.MinCapacity < 1 {
		return &models.ConfigError{Field: "min_capacity", Reason: "must be at least 1"}
	}
	if r.MaxCapacity < r.MinCapacity {
		return &models.ConfigError{Field: "max_capacity", Reason: "must be >= min_capacity"}
	}
	if r.ScalingFactor <= 1 {
		return &models.ConfigError{Field: "scaling_factor", Reason: "must be greater than 1"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[r.ResourceType] = r
	return nil
}

func (s *Scaler) RemoveRule(resourceType string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[resourceType]; !ok {
		return false
	}
	delete(s.rules, resourceType)
	return true
}

func (s *Scaler) Rules() []models.ScalingRule {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ScalingRule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResourceType < out[j].ResourceType })
	return out
}

// Evaluate checks every rule against the caller-supplied current
// capacities and returns the recommendations emitted this pass. Resources
// inside their cooldown or without stats are skipped silently; holding
// capacity between the thresholds is logged but never recorded.
func (s *Scaler) Evaluate(capacities map[string]int) []models.ScalingRecommendation {
	s.mu.Lock()
	rules := make([]models.ScalingRule, 0, len(s.rules))
	for _, r := range s.rules {
		rules = append(rules, r)
	}
	s.mu.Unlock()
	sort.Slice(rules, func(i, j int) bool { return rules[i].ResourceType < rules[j].ResourceType })

	var out []models.ScalingRecommendation
	for _, r := range rules {
		capacity, ok := capacities[r.ResourceType]
		if !ok {
			continue
		}
		if rec, ok := s.evaluateRule(r, capacity); ok {
			out = append(out, rec)
		}
	}
	return out
}

func (s *Scaler) evaluateRule(r models.ScalingRule, capacity int) (models.ScalingRecommendation, bool) {
	now := s.now().UTC()

	s.mu.Lock()
	last, scaled := s.lastScaled[r.ResourceType]
	s.mu.Unlock()
	if scaled && now.Sub(last) < s.cooldown {
		return models.ScalingRecommendation{}, false
	}

	st, ok := s.stats.Stats(r.MetricName, s.window)
	if !ok {
		return models.ScalingRecommendation{}, false
	}
	value := st.Mean

	var rec models.ScalingRecommendation
	switch {
	case value > r.ScaleUpThreshold && capacity < r.MaxCapacity:
		target := int(math.Ceil(float64(capacity) * r.ScalingFactor))
		if target > r.MaxCapacity {
			target = r.MaxCapacity
		}
		rec = models.ScalingRecommendation{
			Action:              models.ActionScaleUp,
			RecommendedCapacity: target,
			Confidence:          clamp((value-r.ScaleUpThreshold)/r.ScaleUpThreshold, 0, 1),
			Reasoning: fmt.Sprintf("%s mean %.2f over %s exceeds scale-up threshold %.2f",
				r.MetricName, value, s.window, r.ScaleUpThreshold),
		}
	case value < r.ScaleDownThreshold && capacity > r.MinCapacity:
		target := int(math.Floor(float64(capacity) / r.ScalingFactor))
		if target < r.MinCapacity {
			target = r.MinCapacity
		}
		rec = models.ScalingRecommendation{
			Action:              models.ActionScaleDown,
			RecommendedCapacity: target,
			Confidence:          clamp((r.ScaleDownThreshold-value)/r.ScaleDownThreshold, 0, 1),
			Reasoning: fmt.Sprintf("%s mean %.2f over %s is below scale-down threshold %.2f",
				r.MetricName, value, s.window, r.ScaleDownThreshold),
		}
	default:
		s.log.Debug("capacity held", "resource", r.ResourceType, "value", value, "capacity", capacity)
		return models.ScalingRecommendation{}, false
	}

	rec.ID = uuid.NewString()
	rec.ResourceType = r.ResourceType
	rec.CurrentCapacity = capacity
	rec.EstimatedImpact = estimateImpact(capacity, rec.RecommendedCapacity)
	rec.TS = now

	s.mu.Lock()
	s.lastScaled[r.ResourceType] = now
	s.history = append(s.history, rec)
	if len(s.history) > maxHistory {
		s.history = s.history[len(s.history)-maxHistory:]
	}
	s.mu.Unlock()

	s.log.Info("scaling recommendation",
		"resource", r.ResourceType, "action", rec.Action,
		"current", capacity, "recommended", rec.RecommendedCapacity,
		"confidence", rec.Confidence)
	return rec, true
}

// History returns recommendations emitted so far, oldest first.
func (s *Scaler) History() []models.ScalingRecommendation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ScalingRecommendation(nil), s.history...)
}

// estimateImpact projects the effect of moving capacity from cur to rec.
// Pure heuristic from the capacity ratio; advisory only.
func estimateImpact(cur, rec int) models.EstimatedImpact {
	if cur <= 0 || rec <= 0 {
		return models.EstimatedImpact{}
	}
	r := float64(rec) / float64(cur)
	return models.EstimatedImpact{
		ThroughputChangePct:    (r - 1) * 100,
		LatencyChangePct:       (1/r - 1) * 100,
		CostChangePct:          (r - 1) * 100,
		ReliabilityImprovement: math.Min(r*0.1, 0.5),
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

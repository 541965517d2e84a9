// Package alerts evaluates registered rules against rolling metric
// statistics and manages the lifecycle of the alerts they raise.
package alerts

import (
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"vigil/internal/models"
	"vigil/internal/recorder"
)

const equalsEpsilon = 1e-3

// maxHistory bounds retained resolved alerts.
const maxHistory = 1000

// Subscriber receives every alert transition (trigger and resolve). A
// subscriber that returns an error or panics is logged and skipped;
// delivery to the remaining subscribers proceeds.
type Subscriber func(models.Alert) error

type Engine struct {
	rec *recorder.Recorder
	log *slog.Logger
	now func() time.Time

	mu            sync.Mutex
	rules         map[string]models.AlertRule
	active        map[string]*models.Alert
	lastTriggered map[string]time.Time
	history       []models.Alert
	subs          []Subscriber
}

func NewEngine(rec *recorder.Recorder, logger *slog.Logger) *Engine {
	return &Engine{
		rec:           rec,
		log:           logger,
		now:           time.Now,
		rules:         make(map[string]models.AlertRule),
		active:        make(map[string]*models.Alert),
		lastTriggered: make(map[string]time.Time),
	}
}

// SetClock replaces the time source for deterministic tests.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// AddRule upserts by rule identity. Registering the same identity twice
// replaces severity/window/min-samples/cooldown without resetting the
// alert state attached to it.
func (e *Engine) AddRule(r models.AlertRule) error {
	if r.MetricName == "" {
		return &models.ConfigError{Field: "metric_name", Reason: "must not be empty"}
	}
	switch r.Comparison {
	case models.CompareGreaterThan, models.CompareLessThan, models.CompareEquals:
	default:
		return &models.ConfigError{Field: "comparison", Reason: fmt.Sprintf("unknown comparison %q", r.Comparison)}
	}
	if r.TimeWindow <= 0 {
		return &models.ConfigError{Field: "time_window", Reason: "must be positive"}
	}
	if r.MinSamples < 1 {
		r.MinSamples = 1
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules[r.Identity()] = r
	return nil
}

// RemoveRule deletes a rule by identity. The active alert for that
// identity, if any, stays active until it ages out of queries; removal is
// configuration, not resolution.
func (e *Engine) RemoveRule(identity string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.rules[identity]; !ok {
		return false
	}
	delete(e.rules, identity)
	return true
}

func (e *Engine) Rules() []models.AlertRule {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.AlertRule, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity() < out[j].Identity() })
	return out
}

// Subscribe registers a callback invoked synchronously on trigger and
// resolve, in registration order.
func (e *Engine) Subscribe(s Subscriber) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subs = append(e.subs, s)
}

// Evaluate runs every rule once against the recorder. Rules with
// insufficient data are skipped, not failed.
func (e *Engine) Evaluate() {
	e.mu.Lock()
	rules := make([]models.AlertRule, 0, len(e.rules))
	for _, r := range e.rules {
		rules = append(rules, r)
	}
	e.mu.Unlock()
	sort.Slice(rules, func(i, j int) bool { return rules[i].Identity() < rules[j].Identity() })

	for _, r := range rules {
		e.evaluateRule(r)
	}
}

func (e *Engine) evaluateRule(r models.AlertRule) {
	st, ok := e.rec.Stats(r.MetricName, r.TimeWindow)
	if !ok || st.Count < r.MinSamples {
		return
	}
	value := st.Mean
	firing := compare(value, r.Comparison, r.Threshold)
	identity := r.Identity()
	now := e.now().UTC()

	e.mu.Lock()
	current := e.active[identity]

	if firing && current == nil {
		if last, ok := e.lastTriggered[identity]; ok && r.Cooldown > 0 && now.Sub(last) < r.Cooldown {
			e.mu.Unlock()
			return
		}
		a := models.Alert{
			ID:           alertID(identity, now),
			RuleIdentity: identity,
			MetricName:   r.MetricName,
			Severity:     r.Severity,
			Message: fmt.Sprintf("%s %s %.4g (current %.4g over %s)",
				r.MetricName, r.Comparison, r.Threshold, value, r.TimeWindow),
			CurrentValue: value,
			Threshold:    r.Threshold,
			TriggeredAt:  now,
		}
		e.active[identity] = &a
		e.lastTriggered[identity] = now
		subs := append([]Subscriber(nil), e.subs...)
		e.mu.Unlock()
		e.log.Info("alert triggered", "id", a.ID, "metric", a.MetricName, "severity", a.Severity, "value", value)
		e.notify(subs, a)
		return
	}

	if !firing && current != nil {
		resolved := *current
		resolved.Resolved = true
		resolved.ResolvedAt = &now
		resolved.CurrentValue = value
		delete(e.active, identity)
		e.history = append(e.history, resolved)
		if len(e.history) > maxHistory {
			e.history = e.history[len(e.history)-maxHistory:]
		}
		subs := append([]Subscriber(nil), e.subs...)
		e.mu.Unlock()
		e.log.Info("alert resolved", "id", resolved.ID, "metric", resolved.MetricName, "value", value)
		e.notify(subs, resolved)
		return
	}

	e.mu.Unlock()
}

func (e *Engine) notify(subs []Subscriber, a models.Alert) {
	for i, s := range subs {
		e.deliver(i, s, a)
	}
}

func (e *Engine) deliver(i int, s Subscriber, a models.Alert) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("subscriber panicked", "subscriber", i, "alert", a.ID, "panic", r)
		}
	}()
	if err := s(a); err != nil {
		e.log.Warn("subscriber failed", "subscriber", i, "alert", a.ID, "err", err)
	}
}

// Active returns currently firing alerts, ordered by trigger time.
func (e *Engine) Active() []models.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.Alert, 0, len(e.active))
	for _, a := range e.active {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TriggeredAt.Before(out[j].TriggeredAt) })
	return out
}

// InRange returns alerts (active and resolved) triggered within
// [start, end], ordered by trigger time.
func (e *Engine) InRange(start, end time.Time) []models.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []models.Alert
	for _, a := range e.history {
		if !a.TriggeredAt.Before(start) && !a.TriggeredAt.After(end) {
			out = append(out, a)
		}
	}
	for _, a := range e.active {
		if !a.TriggeredAt.Before(start) && !a.TriggeredAt.After(end) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TriggeredAt.Before(out[j].TriggeredAt) })
	return out
}

func compare(v float64, c models.Comparison, threshold float64) bool {
	switch c {
	case models.CompareGreaterThan:
		return v > threshold
	case models.CompareLessThan:
		return v < threshold
	case models.CompareEquals:
		return math.Abs(v-threshold) < equalsEpsilon
	default:
		return false
	}
}

// alertID is deterministic per (rule identity, trigger time): resolving
// matches the triggering id, while a re-trigger mints a fresh id.
func alertID(identity string, triggeredAt time.Time) string {
	h := fnv.New64a()
	h.Write([]byte(identity))
	return fmt.Sprintf("alert-%x-%d", h.Sum64(), triggeredAt.UnixNano())
}

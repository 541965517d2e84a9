package alerts

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/models"
	"vigil/internal/recorder"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T) (*Engine, *recorder.Recorder, *time.Time) {
	t.Helper()
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	clock := &now
	rec := recorder.New(recorder.DefaultCapacity)
	rec.SetClock(func() time.Time { return *clock })
	e := NewEngine(rec, discard())
	e.SetClock(func() time.Time { return *clock })
	return e, rec, clock
}

func cpuRule() models.AlertRule {
	return models.AlertRule{
		MetricName: "cpu",
		Comparison: models.CompareGreaterThan,
		Threshold:  80,
		Severity:   models.SeverityCritical,
		TimeWindow: time.Minute,
		MinSamples: 3,
	}
}

func record(rec *recorder.Recorder, name string, ts time.Time, values ...float64) {
	for _, v := range values {
		rec.Record(models.Metric{Name: name, Kind: models.KindGauge, Value: v, TS: ts})
	}
}

func TestAddRuleValidation(t *testing.T) {
	e, _, _ := newHarness(t)

	var cfgErr *models.ConfigError
	err := e.AddRule(models.AlertRule{Comparison: models.CompareGreaterThan, TimeWindow: time.Minute})
	require.ErrorAs(t, err, &cfgErr)

	err = e.AddRule(models.AlertRule{MetricName: "cpu", Comparison: "between", TimeWindow: time.Minute})
	require.ErrorAs(t, err, &cfgErr)

	err = e.AddRule(models.AlertRule{MetricName: "cpu", Comparison: models.CompareLessThan})
	require.ErrorAs(t, err, &cfgErr)

	require.NoError(t, e.AddRule(cpuRule()))
}

func TestAddRuleUpsertsByIdentity(t *testing.T) {
	e, _, _ := newHarness(t)
	r := cpuRule()
	require.NoError(t, e.AddRule(r))
	r.Severity = models.SeverityEmergency
	require.NoError(t, e.AddRule(r))
	rules := e.Rules()
	require.Len(t, rules, 1)
	assert.Equal(t, models.SeverityEmergency, rules[0].Severity)
}

func TestMinSamplesGate(t *testing.T) {
	e, rec, clock := newHarness(t)
	require.NoError(t, e.AddRule(cpuRule()))

	record(rec, "cpu", *clock, 95, 96)
	e.Evaluate()
	assert.Empty(t, e.Active(), "2 samples with min_samples=3 must not trigger")

	record(rec, "cpu", *clock, 97)
	e.Evaluate()
	assert.Len(t, e.Active(), 1)
}

func TestMeanBasedEvaluationNotPeak(t *testing.T) {
	e, rec, clock := newHarness(t)
	require.NoError(t, e.AddRule(cpuRule()))

	// 120 samples alternating 10/90 inside the 60s window: mean is 50.
	for i := 0; i < 120; i++ {
		v := 10.0
		if i%2 == 1 {
			v = 90.0
		}
		rec.Record(models.Metric{
			Name: "cpu", Kind: models.KindGauge, Value: v,
			TS: clock.Add(-time.Duration(120-i) * 500 * time.Millisecond),
		})
	}
	e.Evaluate()
	assert.Empty(t, e.Active(), "mean 50 must not trigger a >80 rule")
}

func TestLifecycleProducesDistinctIDs(t *testing.T) {
	e, rec, clock := newHarness(t)
	require.NoError(t, e.AddRule(cpuRule()))

	record(rec, "cpu", *clock, 90, 91, 92)
	e.Evaluate()
	active := e.Active()
	require.Len(t, active, 1)
	firstID := active[0].ID

	// Condition clears -> resolved with the same id.
	*clock = clock.Add(2 * time.Minute)
	record(rec, "cpu", *clock, 10, 11, 12)
	e.Evaluate()
	assert.Empty(t, e.Active())
	resolved := e.InRange(clock.Add(-time.Hour), *clock)
	require.Len(t, resolved, 1)
	assert.Equal(t, firstID, resolved[0].ID)
	assert.True(t, resolved[0].Resolved)
	require.NotNil(t, resolved[0].ResolvedAt)

	// Re-trigger -> a new episode with a new id.
	*clock = clock.Add(2 * time.Minute)
	record(rec, "cpu", *clock, 95, 96, 97)
	e.Evaluate()
	active = e.Active()
	require.Len(t, active, 1)
	assert.NotEqual(t, firstID, active[0].ID)
}

func TestCooldownBlocksImmediateRetrigger(t *testing.T) {
	e, rec, clock := newHarness(t)
	r := cpuRule()
	r.Cooldown = 10 * time.Minute
	require.NoError(t, e.AddRule(r))

	record(rec, "cpu", *clock, 90, 91, 92)
	e.Evaluate()
	require.Len(t, e.Active(), 1)

	*clock = clock.Add(time.Minute)
	record(rec, "cpu", *clock, 10, 11, 12)
	e.Evaluate()
	require.Empty(t, e.Active())

	// Still inside the cooldown: condition true but no new alert.
	*clock = clock.Add(time.Minute)
	record(rec, "cpu", *clock, 95, 96, 97)
	e.Evaluate()
	assert.Empty(t, e.Active())

	// Past the cooldown it fires again.
	*clock = clock.Add(10 * time.Minute)
	record(rec, "cpu", *clock, 95, 96, 97)
	e.Evaluate()
	assert.Len(t, e.Active(), 1)
}

func TestEqualsUsesEpsilon(t *testing.T) {
	e, rec, clock := newHarness(t)
	require.NoError(t, e.AddRule(models.AlertRule{
		MetricName: "queue.depth",
		Comparison: models.CompareEquals,
		Threshold:  5,
		Severity:   models.SeverityWarning,
		TimeWindow: time.Minute,
		MinSamples: 1,
	}))
	record(rec, "queue.depth", *clock, 5.0005)
	e.Evaluate()
	assert.Len(t, e.Active(), 1)
}

func TestFailingSubscriberDoesNotBlockOthers(t *testing.T) {
	e, rec, clock := newHarness(t)
	require.NoError(t, e.AddRule(cpuRule()))

	var got []string
	e.Subscribe(func(a models.Alert) error {
		got = append(got, "first")
		return errors.New("webhook down")
	})
	e.Subscribe(func(a models.Alert) error {
		panic("broken subscriber")
	})
	e.Subscribe(func(a models.Alert) error {
		got = append(got, "third:"+a.ID)
		return nil
	})

	record(rec, "cpu", *clock, 90, 91, 92)
	e.Evaluate()
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0])
	assert.Contains(t, got[1], "third:alert-")
}

func TestRemoveRule(t *testing.T) {
	e, _, _ := newHarness(t)
	r := cpuRule()
	require.NoError(t, e.AddRule(r))
	assert.True(t, e.RemoveRule(r.Identity()))
	assert.False(t, e.RemoveRule(r.Identity()))
	assert.Empty(t, e.Rules())
}

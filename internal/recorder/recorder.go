// Package recorder keeps bounded rolling histories of metric samples in
// memory and answers windowed statistics queries over them.
package recorder

import (
	"math"
	"sort"
	"sync"
	"time"

	"vigil/internal/models"
)

// DefaultCapacity is the per-metric ring size when none is configured.
const DefaultCapacity = 1000

type sample struct {
	ts    time.Time
	value float64
}

// series is one metric's ring buffer. Each series carries its own lock so
// producers on different metrics never contend.
type series struct {
	mu    sync.Mutex
	kind  models.MetricKind
	buf   []sample
	start int
	count int
	total float64 // running sum for counter kind
}

func (s *series) push(p sample) {
	if s.count < len(s.buf) {
		s.buf[(s.start+s.count)%len(s.buf)] = p
		s.count++
		return
	}
	// Full: overwrite the oldest slot.
	s.buf[s.start] = p
	s.start = (s.start + 1) % len(s.buf)
}

// snapshot copies samples with ts in [from, to] in insertion order.
func (s *series) snapshot(from, to time.Time) []float64 {
	out := make([]float64, 0, s.count)
	for i := 0; i < s.count; i++ {
		p := s.buf[(s.start+i)%len(s.buf)]
		if p.ts.Before(from) || p.ts.After(to) {
			continue
		}
		out = append(out, p.value)
	}
	return out
}

type Recorder struct {
	mu       sync.RWMutex
	series   map[string]*series
	capacity int
	now      func() time.Time
}

func New(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Recorder{
		series:   make(map[string]*series),
		capacity: capacity,
		now:      time.Now,
	}
}

// SetClock replaces the time source. Tests use it for deterministic windows.
func (r *Recorder) SetClock(now func() time.Time) { r.now = now }

// Record appends one sample. Counters accumulate into a running total and
// the stored sample holds the new total; every other kind stores the
// observation as-is. The zero timestamp is filled with the current time.
func (r *Recorder) Record(m models.Metric) {
	s := r.getOrCreate(m.Name, m.Kind)
	ts := m.TS
	if ts.IsZero() {
		ts = r.now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v := m.Value
	if s.kind == models.KindCounter {
		s.total += m.Value
		v = s.total
	}
	s.push(sample{ts: ts, value: v})
}

func (r *Recorder) getOrCreate(name string, kind models.MetricKind) *series {
	r.mu.RLock()
	s, ok := r.series[name]
	r.mu.RUnlock()
	if ok {
		return s
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok = r.series[name]; ok {
		return s
	}
	s = &series{kind: kind, buf: make([]sample, r.capacity)}
	r.series[name] = s
	return s
}

// Stats aggregates samples from the trailing window. ok is false when the
// metric is unknown or the window holds no samples.
func (r *Recorder) Stats(name string, window time.Duration) (models.Stats, bool) {
	end := r.now().UTC()
	return r.StatsRange(name, end.Add(-window), end)
}

// StatsRange aggregates samples with timestamps in [start, end].
func (r *Recorder) StatsRange(name string, start, end time.Time) (models.Stats, bool) {
	r.mu.RLock()
	s, ok := r.series[name]
	r.mu.RUnlock()
	if !ok {
		return models.Stats{}, false
	}
	s.mu.Lock()
	values := s.snapshot(start, end)
	s.mu.Unlock()
	if len(values) == 0 {
		return models.Stats{}, false
	}
	return aggregate(values, end.Sub(start)), true
}

// Names returns the metric names seen so far, sorted.
func (r *Recorder) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.series))
	for name := range r.series {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func aggregate(values []float64, window time.Duration) models.Stats {
	st := models.Stats{Count: len(values), Min: values[0], Max: values[0]}
	var sum float64
	for _, v := range values {
		sum += v
		if v < st.Min {
			st.Min = v
		}
		if v > st.Max {
			st.Max = v
		}
	}
	st.Mean = sum / float64(len(values))

	var sq float64
	for _, v := range values {
		d := v - st.Mean
		sq += d * d
	}
	st.StdDev = math.Sqrt(sq / float64(len(values)))

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	st.Median = nearestRank(sorted, 0.50)
	st.P95 = nearestRank(sorted, 0.95)
	st.P99 = nearestRank(sorted, 0.99)

	if secs := window.Seconds(); secs > 0 {
		st.RatePerSecond = float64(len(values)) / secs
	}
	return st
}

// nearestRank picks index floor(n*p) clamped to n-1 from an ascending
// sorted slice. Deterministic, no interpolation.
func nearestRank(sorted []float64, p float64) float64 {
	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

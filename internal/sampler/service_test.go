package sampler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/models"
)

type fakeSampler struct {
	sample HostSample
	err    error
	delay  time.Duration
}

func (f *fakeSampler) Sample(ctx context.Context) (HostSample, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return HostSample{}, ctx.Err()
		}
	}
	return f.sample, f.err
}

type recorded struct {
	name  string
	kind  models.MetricKind
	value float64
}

type fakeSink struct {
	metrics []recorded
}

func (f *fakeSink) RecordMetric(name string, kind models.MetricKind, value float64, tags map[string]string) {
	f.metrics = append(f.metrics, recorded{name: name, kind: kind, value: value})
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTickRecordsGaugesAndNetDeltas(t *testing.T) {
	fs := &fakeSampler{sample: HostSample{
		CPUPercent:    42.5,
		MemoryPercent: 61.0,
		DiskPercent:   70.0,
		NetBytesSent:  1000,
		NetBytesRecv:  2000,
	}}
	sink := &fakeSink{}
	svc := NewService(fs, sink, discard(), time.Second)

	svc.Tick(context.Background())
	// First tick: three gauges, no net deltas yet.
	require.Len(t, sink.metrics, 3)
	assert.Equal(t, models.MetricCPUPercent, sink.metrics[0].name)
	assert.Equal(t, models.KindGauge, sink.metrics[0].kind)
	assert.Equal(t, 42.5, sink.metrics[0].value)

	fs.sample.NetBytesSent = 1500
	fs.sample.NetBytesRecv = 2700
	svc.Tick(context.Background())
	require.Len(t, sink.metrics, 8)
	assert.Equal(t, models.MetricNetBytesSent, sink.metrics[6].name)
	assert.Equal(t, models.KindCounter, sink.metrics[6].kind)
	assert.Equal(t, 500.0, sink.metrics[6].value)
	assert.Equal(t, 700.0, sink.metrics[7].value)
}

func TestTickDropsFailedSample(t *testing.T) {
	fs := &fakeSampler{err: errors.New("proc unreadable")}
	sink := &fakeSink{}
	svc := NewService(fs, sink, discard(), time.Second)

	svc.Tick(context.Background())
	assert.Empty(t, sink.metrics)
}

func TestTickDropsTimedOutSample(t *testing.T) {
	fs := &fakeSampler{delay: 500 * time.Millisecond, sample: HostSample{CPUPercent: 10}}
	sink := &fakeSink{}
	svc := NewService(fs, sink, discard(), 20*time.Millisecond)

	start := time.Now()
	svc.Tick(context.Background())
	assert.Less(t, time.Since(start), 400*time.Millisecond)
	assert.Empty(t, sink.metrics)
}

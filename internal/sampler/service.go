package sampler

import (
	"context"
	"log/slog"
	"time"

	"vigil/internal/models"
)

// MetricSink is where samples land; satisfied by the engine facade.
type MetricSink interface {
	RecordMetric(name string, kind models.MetricKind, value float64, tags map[string]string)
}

// Service drives a ResourceSampler on a fixed interval and converts each
// sample into recorder metrics. Gauges carry the utilization percentages;
// network totals are turned into per-tick deltas and recorded as counters.
type Service struct {
	sampler ResourceSampler
	sink    MetricSink
	log     *slog.Logger
	timeout time.Duration

	prevSent uint64
	prevRecv uint64
	hasPrev  bool
}

func NewService(s ResourceSampler, sink MetricSink, logger *slog.Logger, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Service{sampler: s, sink: sink, log: logger, timeout: timeout}
}

type sampleResult struct {
	sample HostSample
	err    error
}

// Tick takes one sample and records it. The call is bounded by the service
// timeout; a sample that does not return in time is dropped and the slow
// goroutine is left to finish against its canceled context.
func (s *Service) Tick(ctx context.Context) {
	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ch := make(chan sampleResult, 1)
	go func() {
		hs, err := s.sampler.Sample(sctx)
		ch <- sampleResult{sample: hs, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			s.log.Warn("sample failed", "err", res.err)
			return
		}
		s.record(res.sample)
	case <-sctx.Done():
		s.log.Warn("sample dropped", "err", sctx.Err(), "timeout", s.timeout)
	}
}

func (s *Service) record(hs HostSample) {
	s.sink.RecordMetric(models.MetricCPUPercent, models.KindGauge, hs.CPUPercent, nil)
	s.sink.RecordMetric(models.MetricMemoryPercent, models.KindGauge, hs.MemoryPercent, nil)
	s.sink.RecordMetric(models.MetricDiskPercent, models.KindGauge, hs.DiskPercent, nil)

	if s.hasPrev {
		if hs.NetBytesSent >= s.prevSent {
			s.sink.RecordMetric(models.MetricNetBytesSent, models.KindCounter, float64(hs.NetBytesSent-s.prevSent), nil)
		}
		if hs.NetBytesRecv >= s.prevRecv {
			s.sink.RecordMetric(models.MetricNetBytesRecv, models.KindCounter, float64(hs.NetBytesRecv-s.prevRecv), nil)
		}
	}
	s.prevSent = hs.NetBytesSent
	s.prevRecv = hs.NetBytesRecv
	s.hasPrev = true
}

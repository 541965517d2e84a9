// Package sampler produces periodic host resource samples and feeds them
// into the metric recorder.
package sampler

import (
	"context"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"
)

// HostSample is one point-in-time view of host resources.
type HostSample struct {
	CPUPercent    float64
	MemoryPercent float64
	DiskPercent   float64
	NetBytesSent  uint64
	NetBytesRecv  uint64
}

// ResourceSampler is the pluggable producer of host samples. How the
// numbers are obtained is outside the engine; implementations must honor
// ctx cancellation.
type ResourceSampler interface {
	Sample(ctx context.Context) (HostSample, error)
}

// HostSampler reads live host metrics via gopsutil. CPU percentages are
// relative to the previous call, so the first sample reports 0.
type HostSampler struct {
	diskPath string
}

func NewHostSampler() *HostSampler {
	return &HostSampler{diskPath: "/"}
}

func (h *HostSampler) Sample(ctx context.Context) (HostSample, error) {
	var out HostSample

	cpuPct, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return out, err
	}
	if len(cpuPct) > 0 {
		out.CPUPercent = cpuPct[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return out, err
	}
	out.MemoryPercent = vm.UsedPercent

	du, err := disk.UsageWithContext(ctx, h.diskPath)
	if err != nil {
		return out, err
	}
	out.DiskPercent = du.UsedPercent

	counters, err := net.IOCountersWithContext(ctx, false)
	if err != nil {
		return out, err
	}
	if len(counters) > 0 {
		out.NetBytesSent = counters[0].BytesSent
		out.NetBytesRecv = counters[0].BytesRecv
	}
	return out, nil
}

package pipeline

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/cartolab/geovet/logger"
)

// ResourceSnapshot is one sample of host pressure.
type ResourceSnapshot struct {
	MemoryPercent float64
	CPUPercent    float64
}

// Monitor samples host memory and CPU so the batch coordinator and worker
// pools can shed parallelism under pressure instead of thrashing.
type Monitor struct {
	maxMemoryPercent float64
	maxCPUPercent    float64
	interval         time.Duration

	sample func() ResourceSnapshot // test hook
}

// NewMonitor builds a monitor with the configured thresholds. A zero
// interval falls back to one second.
func NewMonitor(maxMemoryPercent, maxCPUPercent float64, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = time.Second
	}
	return &Monitor{
		maxMemoryPercent: maxMemoryPercent,
		maxCPUPercent:    maxCPUPercent,
		interval:         interval,
		sample:           sampleHost,
	}
}

func sampleHost() ResourceSnapshot {
	var snap ResourceSnapshot
	if vm, err := mem.VirtualMemory(); err == nil {
		snap.MemoryPercent = vm.UsedPercent
	}
	// Zero interval asks gopsutil for the usage since the previous call
	// instead of blocking.
	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		snap.CPUPercent = pcts[0]
	}
	return snap
}

// Snapshot samples current host pressure.
func (m *Monitor) Snapshot() ResourceSnapshot {
	return m.sample()
}

// UnderPressure reports whether either threshold is exceeded.
func (m *Monitor) UnderPressure() bool {
	snap := m.Snapshot()
	return (m.maxMemoryPercent > 0 && snap.MemoryPercent > m.maxMemoryPercent) ||
		(m.maxCPUPercent > 0 && snap.CPUPercent > m.maxCPUPercent)
}

// AdviseWorkers reduces a requested degree of parallelism when the host is
// under pressure. Always returns at least 1.
func (m *Monitor) AdviseWorkers(requested int) int {
	if requested <= 1 {
		return 1
	}
	if !m.UnderPressure() {
		return requested
	}
	advised := requested / 2
	if advised < 1 {
		advised = 1
	}
	logger.Warnw("Reducing parallelism under resource pressure",
		"requested", requested, "advised", advised)
	return advised
}

// Throttle blocks while the host is over threshold, re-sampling at the
// monitor interval, until pressure clears or the context is cancelled.
func (m *Monitor) Throttle(ctx context.Context) error {
	for m.UnderPressure() {
		logger.Debugw("Throttling on resource pressure", "interval", m.interval)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.interval):
		}
	}
	return nil
}

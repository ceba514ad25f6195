// Package metrics collects host resource utilization for heartbeat
// reporting.
package metrics

import (
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"go.uber.org/zap"

	"github.com/fyn-tech/fyn-runner/internal/domain"
)

// Collector samples host resource usage on demand.
type Collector struct {
	// DiskPath is the mount point sampled for disk usage, e.g. "/".
	DiskPath string
	logger   *zap.Logger
}

// NewCollector creates a Collector that samples diskPath for disk usage.
func NewCollector(diskPath string, logger *zap.Logger) *Collector {
	if diskPath == "" {
		diskPath = "/"
	}
	return &Collector{DiskPath: diskPath, logger: logger.Named("metrics")}
}

// Collect returns a snapshot of current CPU, memory, and disk usage as
// percentages (0-100). A failure to sample any one metric logs a warning
// and leaves that field at zero rather than failing the whole snapshot —
// heartbeats are best-effort and must never block on metrics collection.
func (c *Collector) Collect() domain.SystemMetrics {
	var snap domain.SystemMetrics

	if pcts, err := cpu.Percent(0, false); err != nil {
		c.logger.Warn("cpu sample failed", zap.Error(err))
	} else if len(pcts) > 0 {
		snap.CPUPercent = pcts[0]
	}

	if vm, err := mem.VirtualMemory(); err != nil {
		c.logger.Warn("mem sample failed", zap.Error(err))
	} else {
		snap.MemPercent = vm.UsedPercent
	}

	if du, err := disk.Usage(c.DiskPath); err != nil {
		c.logger.Warn("disk sample failed", zap.Error(err), zap.String("path", c.DiskPath))
	} else {
		snap.DiskPercent = du.UsedPercent
	}

	return snap
}

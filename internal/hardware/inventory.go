// Package hardware is the default implementation of
// config.HardwareInventory, backing `service status`'s CPU/RSS report.
package hardware

import (
	"fmt"

	"github.com/shirou/gopsutil/v4/process"
)

// Inventory samples per-process resource usage via gopsutil.
type Inventory struct{}

// New creates an Inventory.
func New() *Inventory { return &Inventory{} }

// ProcessCPUPercent returns pid's average CPU usage percentage over its
// lifetime: total CPU time divided by the time since the process started.
func (Inventory) ProcessCPUPercent(pid int) (float64, error) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return 0, fmt.Errorf("hardware: looking up pid %d: %w", pid, err)
	}
	pct, err := p.CPUPercent()
	if err != nil {
		return 0, fmt.Errorf("hardware: reading cpu percent for pid %d: %w", pid, err)
	}
	return pct, nil
}

// ProcessRSSBytes returns pid's resident set size in bytes.
func (Inventory) ProcessRSSBytes(pid int) (uint64, error) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return 0, fmt.Errorf("hardware: looking up pid %d: %w", pid, err)
	}
	mem, err := p.MemoryInfo()
	if err != nil {
		return 0, fmt.Errorf("hardware: reading memory info for pid %d: %w", pid, err)
	}
	return mem.RSS, nil
}

// Package sysinfo samples process and system resource usage. The watcher
// reads these numbers on a cadence; crash reports embed one final snapshot.
package sysinfo

import (
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

// Snapshot is one point-in-time resource reading.
type Snapshot struct {
	MemoryPercent     float64 // system memory in use, 0-100
	ProcessMemoryMB   float64 // resident set size of this process
	ProcessCPUPercent float64 // CPU usage of this process since the last sample
}

// Sampler produces resource snapshots.
type Sampler interface {
	Sample() (Snapshot, error)
}

// SystemSampler reads real process and system metrics.
type SystemSampler struct {
	proc *process.Process
}

// New returns a sampler bound to the current process.
func New() (*SystemSampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("attaching to own process: %w", err)
	}
	return &SystemSampler{proc: proc}, nil
}

// Sample reads current memory and CPU usage. CPU percent is measured
// against the previous Sample call, so the first reading is 0.
func (s *SystemSampler) Sample() (Snapshot, error) {
	var snap Snapshot

	vm, err := mem.VirtualMemory()
	if err != nil {
		return snap, fmt.Errorf("reading system memory: %w", err)
	}
	snap.MemoryPercent = vm.UsedPercent

	memInfo, err := s.proc.MemoryInfo()
	if err != nil {
		return snap, fmt.Errorf("reading process memory: %w", err)
	}
	snap.ProcessMemoryMB = float64(memInfo.RSS) / 1024 / 1024

	cpu, err := s.proc.Percent(0)
	if err != nil {
		return snap, fmt.Errorf("reading process cpu: %w", err)
	}
	snap.ProcessCPUPercent = cpu

	return snap, nil
}

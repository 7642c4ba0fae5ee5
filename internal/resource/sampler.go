package resource

import (
	"fmt"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

// SamplerFunc produces a host sample. The scheduler takes one of these so
// tests can substitute fixed readings.
type SamplerFunc func() (Sample, error)

// HostSample reads load average and memory from the running host.
func HostSample() (Sample, error) {
	avg, err := load.Avg()
	if err != nil {
		return Sample{}, fmt.Errorf("read load average: %w", err)
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return Sample{}, fmt.Errorf("read virtual memory: %w", err)
	}
	count, err := cpu.Counts(true)
	if err != nil || count <= 0 {
		count = 1
	}
	return Sample{
		CPUCount:      count,
		Load1:         avg.Load1,
		FreeMemBytes:  vm.Available,
		TotalMemBytes: vm.Total,
	}, nil
}

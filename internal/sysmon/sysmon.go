// Package sysmon periodically samples host CPU and memory usage and
// publishes the readings on the event bus.
package sysmon

import (
	"context"
	"log"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/ollahub/ollahub/internal/events"
)

// Stats is one sample of host resource usage.
type Stats struct {
	CPUUsage    float64 `json:"cpu_usage"`
	MemoryUsed  uint64  `json:"memory_used"`
	MemoryTotal uint64  `json:"memory_total"`
}

// DefaultInterval is how often samples are taken.
const DefaultInterval = 2 * time.Second

// Monitor samples the host on a fixed interval.
type Monitor struct {
	bus      *events.Bus
	interval time.Duration
	logger   *log.Logger
}

// New returns a monitor publishing to bus. interval <= 0 uses the
// default.
func New(bus *events.Bus, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		bus:      bus,
		interval: interval,
		logger:   log.New(log.Writer(), "[SYSMON] ", log.LstdFlags),
	}
}

// Sample takes one reading.
func Sample(ctx context.Context) (Stats, error) {
	var stats Stats
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return stats, err
	}
	if len(percents) > 0 {
		stats.CPUUsage = percents[0]
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return stats, err
	}
	stats.MemoryUsed = vm.Used
	stats.MemoryTotal = vm.Total
	return stats, nil
}

// Run samples until ctx is done, publishing each reading. Sampling
// errors are logged and skipped.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := Sample(ctx)
			if err != nil {
				m.logger.Printf("sampling failed: %v", err)
				continue
			}
			m.bus.Publish(events.SystemStats, stats)
		}
	}
}

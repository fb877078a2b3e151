// SPDX-License-Identifier: GPL-2.0-or-later

// Package system reports host cpu, ram and disk usage.
package system

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"srec/pkg/log"
	"srec/pkg/storage"
)

// Status stores system status.
type Status struct {
	CPUUsage           int    `json:"cpuUsage"`
	RAMUsage           int    `json:"ramUsage"`
	DiskUsage          int    `json:"diskUsage"`
	DiskUsageFormatted string `json:"diskUsageFormatted"`
}

type cpuFunc func(context.Context, time.Duration, bool) ([]float64, error)
type ramFunc func() (*mem.VirtualMemoryStat, error)
type diskFunc func(time.Duration) (storage.DiskUsage, error)

// System polls and caches host usage.
type System struct {
	cpu  cpuFunc
	ram  ramFunc
	disk diskFunc

	status       Status
	duration     time.Duration
	timeZonePath string

	logger *log.Logger
	mu     sync.Mutex
	o      sync.Once
}

// New returns new System.
func New(disk diskFunc, logger *log.Logger) *System {
	return &System{
		cpu:  cpu.PercentWithContext,
		ram:  mem.VirtualMemory,
		disk: disk,

		duration:     10 * time.Second,
		timeZonePath: "/etc/timezone",

		logger: logger,
	}
}

func (s *System) update(ctx context.Context) error {
	cpuUsage, err := s.cpu(ctx, s.duration, false)
	if err != nil {
		return fmt.Errorf("cpu usage: %w", err)
	}
	ramUsage, err := s.ram()
	if err != nil {
		return fmt.Errorf("ram usage: %w", err)
	}
	diskUsage, err := s.disk(s.duration)
	if err != nil {
		return fmt.Errorf("disk usage: %w", err)
	}

	s.mu.Lock()
	s.status = Status{
		CPUUsage:           int(cpuUsage[0]),
		RAMUsage:           int(ramUsage.UsedPercent),
		DiskUsage:          diskUsage.Percent,
		DiskUsageFormatted: diskUsage.Formatted,
	}
	s.mu.Unlock()

	return nil
}

// StatusLoop updates system status until context is canceled. The
// cpu poll blocks for the sample duration, pacing the loop.
func (s *System) StatusLoop(ctx context.Context) {
	s.o.Do(func() {
		for {
			if ctx.Err() != nil {
				return
			}
			if err := s.update(ctx); err != nil {
				s.logger.Error().Src("system").
					Msgf("could not update system status: %v", err)
			}
		}
	})
}

// Status returns cpu, ram and disk usage.
func (s *System) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// TimeZone returns system time zone.
func (s *System) TimeZone() (string, error) {
	data, err := os.ReadFile(s.timeZonePath)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

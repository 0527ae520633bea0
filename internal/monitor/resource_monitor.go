/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package monitor

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/loqalabs/loqa-lectern/internal/logging"
)

// Resource limits cover the Go heap only, which excludes native model memory
// but includes the embedding matrix. Take the baseline after the corpus loads.
const (
	DefaultMaxGoroutines = 500
	DefaultMaxMemoryMB   = 4096
	goroutineLeakSlack   = 50
	memoryGrowthMB       = 512
	gcPauseLimit         = 100 * time.Millisecond
)

// ResourceMonitor tracks process resources against a baseline taken at
// construction and flags growth that points at a leak.
type ResourceMonitor struct {
	mu sync.RWMutex

	startGoroutines int
	startMemoryMB   uint64
	maxGoroutines   int
	maxMemoryMB     uint64

	metrics ResourceMetrics
}

// ResourceMetrics is one sample of process resource usage.
type ResourceMetrics struct {
	Goroutines   int           `json:"goroutines"`
	MemoryMB     uint64        `json:"memory_mb"`
	GCCycles     uint32        `json:"gc_cycles"`
	LastGCPause  time.Duration `json:"last_gc_pause_ns"`
	EventClients int           `json:"event_clients"`
	SampledAt    time.Time     `json:"sampled_at"`
}

// ResourceHealth summarises a sample and any warnings it raised.
type ResourceHealth struct {
	Healthy  bool            `json:"healthy"`
	Warnings []string        `json:"warnings"`
	Metrics  ResourceMetrics `json:"metrics"`
}

// NewResourceMonitor records the baseline.
func NewResourceMonitor() *ResourceMonitor {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	rm := &ResourceMonitor{
		startGoroutines: runtime.NumGoroutine(),
		startMemoryMB:   m.Alloc / 1024 / 1024,
		maxGoroutines:   DefaultMaxGoroutines,
		maxMemoryMB:     DefaultMaxMemoryMB,
	}

	logging.LogInfo("Resource monitor initialized",
		zap.Int("baseline_goroutines", rm.startGoroutines),
		zap.Uint64("baseline_memory_mb", rm.startMemoryMB))
	return rm
}

// Update takes a fresh sample. eventClients is the number of connected
// event stream subscribers.
func (rm *ResourceMonitor) Update(eventClients int) ResourceMetrics {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	sample := ResourceMetrics{
		Goroutines:   runtime.NumGoroutine(),
		MemoryMB:     m.Alloc / 1024 / 1024,
		GCCycles:     m.NumGC,
		LastGCPause:  time.Duration(m.PauseNs[(m.NumGC+255)%256]), //nolint:gosec // ring index
		EventClients: eventClients,
		SampledAt:    time.Now(),
	}

	rm.mu.Lock()
	rm.metrics = sample
	rm.mu.Unlock()
	return sample
}

// Metrics returns the latest sample.
func (rm *ResourceMonitor) Metrics() ResourceMetrics {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.metrics
}

// Warnings lists suspicious growth in the latest sample. Each connected
// event client is allowed a few goroutines of its own.
func (rm *ResourceMonitor) Warnings() []string {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	var warnings []string
	m := rm.metrics

	allowed := rm.startGoroutines + goroutineLeakSlack + 3*m.EventClients
	if m.Goroutines > allowed {
		warnings = append(warnings,
			fmt.Sprintf("Potential goroutine leak: %d goroutines (started with %d, %d event clients)",
				m.Goroutines, rm.startGoroutines, m.EventClients))
	}

	if m.MemoryMB > rm.startMemoryMB+memoryGrowthMB {
		warnings = append(warnings,
			fmt.Sprintf("Significant memory increase: %dMB (started with %dMB)",
				m.MemoryMB, rm.startMemoryMB))
	}

	if m.Goroutines > rm.maxGoroutines {
		warnings = append(warnings,
			fmt.Sprintf("Goroutine limit exceeded: %d (max %d)", m.Goroutines, rm.maxGoroutines))
	}

	if m.MemoryMB > rm.maxMemoryMB {
		warnings = append(warnings,
			fmt.Sprintf("Memory limit exceeded: %dMB (max %dMB)", m.MemoryMB, rm.maxMemoryMB))
	}

	if m.LastGCPause > gcPauseLimit {
		warnings = append(warnings, fmt.Sprintf("High GC pause detected: %v", m.LastGCPause))
	}

	return warnings
}

// Health samples and evaluates in one step.
func (rm *ResourceMonitor) Health(eventClients int) ResourceHealth {
	metrics := rm.Update(eventClients)
	warnings := rm.Warnings()
	for _, w := range warnings {
		logging.LogWarn("Resource warning", zap.String("warning", w))
	}
	return ResourceHealth{
		Healthy:  len(warnings) == 0,
		Warnings: warnings,
		Metrics:  metrics,
	}
}

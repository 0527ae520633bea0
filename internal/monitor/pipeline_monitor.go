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
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/loqalabs/loqa-lectern/internal/logging"
)

// PipelineMonitor tracks how the listen-transcribe-detect pipeline keeps up
// with live speech.
type PipelineMonitor struct {
	mutex sync.RWMutex

	// Inference metrics
	windowsProcessed   uint64
	totalInferenceTime time.Duration
	maxInferenceTime   time.Duration
	minInferenceTime   time.Duration
	audioProcessed     time.Duration

	// Window flow
	windowsDispatched uint64
	windowsDropped    uint64
	suppressed        uint64
	inferenceErrors   uint64
	detections        map[string]uint64

	// Sessions
	sessionsStarted        uint64
	sessionsStopped        uint64
	lastModelLoadTime      time.Duration
	averageSessionDuration time.Duration

	// Capture throughput, in 16 kHz samples per second
	lastThroughputCheck time.Time
	samplesInLastPeriod uint64
	currentThroughput   float64

	recommendations []string
}

// Metrics is a point-in-time copy of the monitor's counters.
type Metrics struct {
	WindowsProcessed      uint64            `json:"windows_processed"`
	AverageInferenceMS    int64             `json:"average_inference_ms"`
	MaxInferenceMS        int64             `json:"max_inference_ms"`
	MinInferenceMS        int64             `json:"min_inference_ms"`
	RealTimeFactor        float64           `json:"real_time_factor"`
	WindowsDispatched     uint64            `json:"windows_dispatched"`
	WindowsDropped        uint64            `json:"windows_dropped"`
	SuppressedTranscripts uint64            `json:"suppressed_transcripts"`
	InferenceErrors       uint64            `json:"inference_errors"`
	Detections            map[string]uint64 `json:"detections"`
	SessionsStarted       uint64            `json:"sessions_started"`
	SessionsStopped       uint64            `json:"sessions_stopped"`
	ModelLoadMS           int64             `json:"model_load_ms"`
	AverageSessionSeconds float64           `json:"average_session_seconds"`
	CaptureThroughput     float64           `json:"capture_samples_per_second"`
	Recommendations       []string          `json:"recommendations"`
}

// NewPipelineMonitor creates an empty monitor.
func NewPipelineMonitor() *PipelineMonitor {
	return &PipelineMonitor{
		minInferenceTime:    time.Hour,
		detections:          make(map[string]uint64),
		lastThroughputCheck: time.Now(),
	}
}

// RecordInference records one processed window: how long transcription and
// embedding took and how much audio the window held.
func (pm *PipelineMonitor) RecordInference(elapsed, audio time.Duration) {
	pm.mutex.Lock()
	defer pm.mutex.Unlock()

	pm.windowsProcessed++
	pm.totalInferenceTime += elapsed
	pm.audioProcessed += audio

	if elapsed > pm.maxInferenceTime {
		pm.maxInferenceTime = elapsed
	}
	if elapsed < pm.minInferenceTime {
		pm.minInferenceTime = elapsed
	}

	pm.updateRecommendations()
}

// RecordCapture records audio chunks received from the capture engine.
func (pm *PipelineMonitor) RecordCapture(samples int) {
	pm.mutex.Lock()
	defer pm.mutex.Unlock()

	pm.samplesInLastPeriod += uint64(samples)

	now := time.Now()
	if elapsed := now.Sub(pm.lastThroughputCheck); elapsed >= 10*time.Second {
		pm.currentThroughput = float64(pm.samplesInLastPeriod) / elapsed.Seconds()
		pm.samplesInLastPeriod = 0
		pm.lastThroughputCheck = now
	}
}

// RecordWindowDispatched records a window handed to the inference worker.
func (pm *PipelineMonitor) RecordWindowDispatched() {
	pm.mutex.Lock()
	defer pm.mutex.Unlock()
	pm.windowsDispatched++
}

// RecordWindowDropped records a window discarded because the worker was busy.
func (pm *PipelineMonitor) RecordWindowDropped() {
	pm.mutex.Lock()
	defer pm.mutex.Unlock()
	pm.windowsDropped++
	pm.updateRecommendations()
}

// RecordSuppressed records a transcript discarded as empty or a placeholder.
func (pm *PipelineMonitor) RecordSuppressed() {
	pm.mutex.Lock()
	defer pm.mutex.Unlock()
	pm.suppressed++
}

// RecordInferenceError records a failed transcription or embedding.
func (pm *PipelineMonitor) RecordInferenceError() {
	pm.mutex.Lock()
	defer pm.mutex.Unlock()
	pm.inferenceErrors++
	pm.updateRecommendations()
}

// RecordDetection counts a detection outcome by source.
func (pm *PipelineMonitor) RecordDetection(source string) {
	pm.mutex.Lock()
	defer pm.mutex.Unlock()
	pm.detections[source]++
}

// RecordSessionStarted records a session reaching Running. A zero load time
// means the models were already resident and keeps the last measured one.
func (pm *PipelineMonitor) RecordSessionStarted(modelLoadTime time.Duration) {
	pm.mutex.Lock()
	defer pm.mutex.Unlock()
	pm.sessionsStarted++
	if modelLoadTime > 0 {
		pm.lastModelLoadTime = modelLoadTime
	}
}

// RecordSessionStopped records the end of a session.
func (pm *PipelineMonitor) RecordSessionStopped(duration time.Duration) {
	pm.mutex.Lock()
	defer pm.mutex.Unlock()

	pm.sessionsStopped++
	//nolint:gosec // session counts stay far below overflow
	pm.averageSessionDuration = (pm.averageSessionDuration*time.Duration(pm.sessionsStopped-1) + duration) / time.Duration(pm.sessionsStopped)
}

// Snapshot returns the current metrics.
func (pm *PipelineMonitor) Snapshot() Metrics {
	pm.mutex.RLock()
	defer pm.mutex.RUnlock()

	m := Metrics{
		WindowsProcessed:      pm.windowsProcessed,
		MaxInferenceMS:        pm.maxInferenceTime.Milliseconds(),
		WindowsDispatched:     pm.windowsDispatched,
		WindowsDropped:        pm.windowsDropped,
		SuppressedTranscripts: pm.suppressed,
		InferenceErrors:       pm.inferenceErrors,
		Detections:            make(map[string]uint64, len(pm.detections)),
		SessionsStarted:       pm.sessionsStarted,
		SessionsStopped:       pm.sessionsStopped,
		ModelLoadMS:           pm.lastModelLoadTime.Milliseconds(),
		AverageSessionSeconds: pm.averageSessionDuration.Seconds(),
		CaptureThroughput:     pm.currentThroughput,
		Recommendations:       append([]string(nil), pm.recommendations...),
	}
	if pm.windowsProcessed > 0 {
		m.AverageInferenceMS = pm.averageInference().Milliseconds()
		m.MinInferenceMS = pm.minInferenceTime.Milliseconds()
	}
	if pm.audioProcessed > 0 {
		m.RealTimeFactor = pm.totalInferenceTime.Seconds() / pm.audioProcessed.Seconds()
	}
	for source, n := range pm.detections {
		m.Detections[source] = n
	}
	return m
}

func (pm *PipelineMonitor) averageInference() time.Duration {
	if pm.windowsProcessed == 0 {
		return 0
	}
	//nolint:gosec // window counts stay far below overflow
	return pm.totalInferenceTime / time.Duration(pm.windowsProcessed)
}

// updateRecommendations must be called with the write lock held.
func (pm *PipelineMonitor) updateRecommendations() {
	pm.recommendations = nil

	if pm.audioProcessed > 0 && pm.totalInferenceTime > pm.audioProcessed {
		pm.recommendations = append(pm.recommendations,
			"Inference is slower than real time. Use a smaller speech model or a larger window.")
	}

	if pm.windowsDropped > 0 {
		pm.recommendations = append(pm.recommendations,
			"Windows were dropped while the inference worker was busy. Increase the window size.")
	}

	if pm.windowsProcessed >= 10 {
		errorRate := float64(pm.inferenceErrors) / float64(pm.windowsProcessed+pm.inferenceErrors) * 100
		if errorRate > 5 {
			pm.recommendations = append(pm.recommendations,
				"High inference error rate (>5%). Check model files and backend health.")
		}
	}
}

// GetRecommendations returns current recommendations
func (pm *PipelineMonitor) GetRecommendations() []string {
	pm.mutex.RLock()
	defer pm.mutex.RUnlock()
	return append([]string(nil), pm.recommendations...)
}

// LogSummary logs the current metrics.
func (pm *PipelineMonitor) LogSummary() {
	m := pm.Snapshot()

	logging.LogInference("summary",
		zap.Uint64("windows_processed", m.WindowsProcessed),
		zap.Int64("average_inference_ms", m.AverageInferenceMS),
		zap.Float64("real_time_factor", m.RealTimeFactor),
		zap.Uint64("windows_dropped", m.WindowsDropped),
		zap.Uint64("inference_errors", m.InferenceErrors),
		zap.Any("detections", m.Detections))

	if len(m.Recommendations) > 0 {
		logging.LogWarn("Pipeline recommendations", zap.Strings("recommendations", m.Recommendations))
	}
}

// reset clears all metrics.
func (pm *PipelineMonitor) reset() {
	pm.mutex.Lock()
	defer pm.mutex.Unlock()

	pm.windowsProcessed = 0
	pm.totalInferenceTime = 0
	pm.maxInferenceTime = 0
	pm.minInferenceTime = time.Hour
	pm.audioProcessed = 0
	pm.windowsDispatched = 0
	pm.windowsDropped = 0
	pm.suppressed = 0
	pm.inferenceErrors = 0
	pm.detections = make(map[string]uint64)
	pm.sessionsStarted = 0
	pm.sessionsStopped = 0
	pm.lastModelLoadTime = 0
	pm.averageSessionDuration = 0
	pm.lastThroughputCheck = time.Now()
	pm.samplesInLastPeriod = 0
	pm.currentThroughput = 0
	pm.recommendations = nil
}

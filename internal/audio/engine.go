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

package audio

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/loqalabs/loqa-lectern/internal/logging"
	"go.uber.org/zap"
)

// CaptureEngine owns the input stream and its sinks. All control methods are
// safe for concurrent use; the hardware handle never leaves the engine.
type CaptureEngine struct {
	host         Host
	newResampler ResamplerFactory
	threshold    atomic.Uint32

	mu       sync.Mutex
	selected string
	stream   Stream
	stopping *atomic.Bool
	sinks    *Sinks
	format   StreamFormat
}

// Option configures a CaptureEngine.
type Option func(*CaptureEngine)

// WithResamplerFactory replaces the default windowed-sinc resampler.
func WithResamplerFactory(factory ResamplerFactory) Option {
	return func(e *CaptureEngine) {
		e.newResampler = factory
	}
}

// WithDevice preselects a capture device by id.
func WithDevice(id string) Option {
	return func(e *CaptureEngine) {
		e.selected = id
	}
}

// NewCaptureEngine creates an idle engine on host.
func NewCaptureEngine(host Host, opts ...Option) *CaptureEngine {
	e := &CaptureEngine{
		host:         host,
		newResampler: NewSincResampler,
	}
	e.threshold.Store(math.Float32bits(DefaultVADThreshold))

	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ListDevices enumerates input devices.
func (e *CaptureEngine) ListDevices() ([]Device, error) {
	devices, err := e.host.InputDevices()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceEnumeration, err)
	}
	return devices, nil
}

// SelectDevice records the device to capture from. An empty id selects the
// host default. While capturing, the stream is rebuilt on the new device and
// keeps delivering to the same sinks; if that fails the engine stops.
func (e *CaptureEngine) SelectDevice(id string) error {
	if id != "" {
		if err := e.resolve(id); err != nil {
			return err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.selected = id
	if e.stream == nil || e.sinks == nil {
		return nil
	}

	sinks := *e.sinks
	e.teardownLocked()
	if err := e.openLocked(sinks); err != nil {
		e.closeSinksLocked()
		logging.LogError(err, "Hot swap failed, capture stopped", zap.String("device", id))
		return fmt.Errorf("failed to restart capture on %q: %w", id, err)
	}

	logging.LogAudioCapture(e.deviceLabel(), "swapped")
	return nil
}

func (e *CaptureEngine) resolve(id string) error {
	devices, err := e.ListDevices()
	if err != nil {
		return err
	}
	for _, d := range devices {
		if d.ID == id {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
}

// StartCapturing opens the selected device and starts delivering mono 16 kHz
// chunks to sinks. A capture already in progress is stopped first and its
// sinks closed.
func (e *CaptureEngine) StartCapturing(sinks Sinks) error {
	if sinks.Audio == nil || sinks.Errors == nil {
		return fmt.Errorf("%w: audio and error sinks are required", ErrStreamConfig)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stream != nil {
		e.teardownLocked()
		e.closeSinksLocked()
	}

	if err := e.openLocked(sinks); err != nil {
		return err
	}
	e.sinks = &sinks

	logging.LogAudioCapture(e.deviceLabel(), "started",
		zap.String("format", e.format.SampleFormat.String()),
		zap.Int("channels", e.format.Channels),
		zap.Int("sample_rate", e.format.SampleRate),
	)
	return nil
}

func (e *CaptureEngine) openLocked(sinks Sinks) error {
	var proc *blockProcessor
	stopping := &atomic.Bool{}

	stream, err := e.host.OpenInput(e.selected, StreamCallbacks{
		Data: func(raw []byte, frames uint32) {
			proc.process(raw, int(frames))
		},
		Stopped: func() {
			if stopping.Load() {
				return
			}
			select {
			case sinks.Errors <- fmt.Errorf("%w: %w", ErrStreamRuntime, ErrDeviceLost):
			default:
			}
		},
	})
	if err != nil {
		return err
	}

	format := stream.Format()
	proc, err = newBlockProcessor(format, sinks, &e.threshold, e.newResampler)
	if err != nil {
		stopping.Store(true)
		_ = stream.Close()
		return err
	}

	if err := stream.Start(); err != nil {
		stopping.Store(true)
		_ = stream.Close()
		return fmt.Errorf("%w: start: %v", ErrStreamConfig, err)
	}

	e.stream = stream
	e.stopping = stopping
	e.format = format
	return nil
}

// SetVADThreshold changes the energy gate; it applies to the next block.
func (e *CaptureEngine) SetVADThreshold(threshold float32) {
	e.threshold.Store(math.Float32bits(threshold))
}

// VADThreshold returns the current energy gate.
func (e *CaptureEngine) VADThreshold() float32 {
	return math.Float32frombits(e.threshold.Load())
}

// Stop releases the stream and closes every sink. Consumers observe the
// closed channels as end of capture. Safe to call when idle.
func (e *CaptureEngine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	wasCapturing := e.stream != nil
	e.teardownLocked()
	e.closeSinksLocked()

	if wasCapturing {
		logging.LogAudioCapture(e.deviceLabel(), "stopped")
	}
}

// IsCapturing reports whether a stream is open.
func (e *CaptureEngine) IsCapturing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stream != nil
}

// SelectedDevice returns the selected id, empty for the host default.
func (e *CaptureEngine) SelectedDevice() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selected
}

func (e *CaptureEngine) teardownLocked() {
	if e.stream == nil {
		return
	}
	e.stopping.Store(true)
	if err := e.stream.Close(); err != nil {
		logging.LogError(err, "Failed to close audio stream", zap.String("device", e.deviceLabel()))
	}
	e.stream = nil
	e.stopping = nil
}

// closeSinksLocked must only run after teardownLocked: the stream guarantees
// no callback is still sending once Close returns.
func (e *CaptureEngine) closeSinksLocked() {
	if e.sinks == nil {
		return
	}
	close(e.sinks.Audio)
	close(e.sinks.Errors)
	if e.sinks.Levels != nil {
		close(e.sinks.Levels)
	}
	e.sinks = nil
}

func (e *CaptureEngine) deviceLabel() string {
	if e.selected == "" {
		return "default"
	}
	return e.selected
}

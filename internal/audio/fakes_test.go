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
	"encoding/binary"
	"math"
	"sync"
)

type fakeHost struct {
	mu      sync.Mutex
	devices []Device
	format  StreamFormat
	enumErr error
	openErr error
	opened  []string
	streams []*fakeStream
}

func newFakeHost(format StreamFormat, names ...string) *fakeHost {
	h := &fakeHost{format: format}
	for i, name := range names {
		h.devices = append(h.devices, Device{ID: name, Name: name, Default: i == 0})
	}
	return h
}

func (h *fakeHost) InputDevices() ([]Device, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.enumErr != nil {
		return nil, h.enumErr
	}
	return append([]Device(nil), h.devices...), nil
}

func (h *fakeHost) OpenInput(deviceID string, callbacks StreamCallbacks) (Stream, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.openErr != nil {
		return nil, h.openErr
	}
	s := &fakeStream{format: h.format, callbacks: callbacks}
	h.opened = append(h.opened, deviceID)
	h.streams = append(h.streams, s)
	return s, nil
}

func (h *fakeHost) stream(i int) *fakeStream {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.streams[i]
}

func (h *fakeHost) setOpenErr(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.openErr = err
}

// fakeStream serialises callbacks with Close, as miniaudio does.
type fakeStream struct {
	mu        sync.Mutex
	format    StreamFormat
	callbacks StreamCallbacks
	started   bool
	closed    bool
}

func (s *fakeStream) Format() StreamFormat { return s.format }

func (s *fakeStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	return nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.started {
		s.callbacks.Stopped()
	}
	return nil
}

func (s *fakeStream) push(raw []byte, frames int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.closed {
		return false
	}
	s.callbacks.Data(raw, uint32(frames))
	return true
}

// unplug simulates the device disappearing underneath a running stream.
func (s *fakeStream) unplug() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks.Stopped()
}

func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func encodeF32(samples []float32) []byte {
	raw := make([]byte, len(samples)*4)
	for i, v := range samples {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}
	return raw
}

func constant(value float32, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = value
	}
	return out
}

func identityResampler(int, int) (Resampler, error) {
	return passthrough{}, nil
}

type scaledResampler struct {
	gain  float32
	calls int
}

func (r *scaledResampler) Process(in []float32) ([]float32, error) {
	r.calls++
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = v * r.gain
	}
	return out, nil
}

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
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/loqalabs/loqa-lectern/internal/logging"
	"go.uber.org/zap"
)

// MalgoHost is the miniaudio-backed Host.
type MalgoHost struct {
	mu  sync.Mutex
	ctx *malgo.AllocatedContext
}

// NewMalgoHost initialises the platform audio context.
func NewMalgoHost() (*MalgoHost, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		if logging.Logger != nil {
			logging.Logger.Debug("miniaudio", zap.String("message", message))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceEnumeration, err)
	}
	return &MalgoHost{ctx: ctx}, nil
}

// InputDevices lists capture devices by display name.
func (h *MalgoHost) InputDevices() ([]Device, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	infos, err := h.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceEnumeration, err)
	}

	devices := make([]Device, 0, len(infos))
	for i := range infos {
		name := infos[i].Name()
		devices = append(devices, Device{
			ID:      name,
			Name:    name,
			Default: infos[i].IsDefault != 0,
		})
	}
	return devices, nil
}

// OpenInput opens a capture device in its native format. Leaving format,
// channels and rate at zero makes miniaudio use the device's own values.
func (h *MalgoHost) OpenInput(deviceID string, callbacks StreamCallbacks) (Stream, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatUnknown
	cfg.Capture.Channels = 0
	cfg.SampleRate = 0

	if deviceID != "" {
		id, err := h.lookupLocked(deviceID)
		if err != nil {
			return nil, err
		}
		cfg.Capture.DeviceID = id.Pointer()
	}

	device, err := malgo.InitDevice(h.ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(_, input []byte, frames uint32) {
			callbacks.Data(input, frames)
		},
		Stop: func() {
			if callbacks.Stopped != nil {
				callbacks.Stopped()
			}
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStreamConfig, err)
	}

	return &malgoStream{device: device}, nil
}

func (h *MalgoHost) lookupLocked(deviceID string) (*malgo.DeviceID, error) {
	infos, err := h.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceEnumeration, err)
	}
	for i := range infos {
		if infos[i].Name() == deviceID {
			id := infos[i].ID
			return &id, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
}

// Close releases the audio context.
func (h *MalgoHost) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.ctx == nil {
		return nil
	}
	err := h.ctx.Uninit()
	h.ctx.Free()
	h.ctx = nil
	return err
}

type malgoStream struct {
	device *malgo.Device
}

func (s *malgoStream) Format() StreamFormat {
	return StreamFormat{
		SampleFormat: fromMalgoFormat(s.device.CaptureFormat()),
		Channels:     int(s.device.CaptureChannels()),
		SampleRate:   int(s.device.SampleRate()),
	}
}

func (s *malgoStream) Start() error {
	return s.device.Start()
}

// Close uninitialises the device; miniaudio waits for the data callback to
// return before this completes.
func (s *malgoStream) Close() error {
	s.device.Uninit()
	return nil
}

func fromMalgoFormat(format malgo.FormatType) SampleFormat {
	switch format {
	case malgo.FormatU8:
		return FormatU8
	case malgo.FormatS16:
		return FormatS16
	case malgo.FormatS24:
		return FormatS24
	case malgo.FormatS32:
		return FormatS32
	case malgo.FormatF32:
		return FormatF32
	default:
		return FormatUnknown
	}
}

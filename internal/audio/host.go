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

// Device describes one capture endpoint. ID is the display name reported by
// the host audio subsystem.
type Device struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Default bool   `json:"default"`
}

// StreamFormat is the native configuration a device was opened with.
type StreamFormat struct {
	SampleFormat SampleFormat
	Channels     int
	SampleRate   int
}

// StreamCallbacks are invoked on the host's real-time audio thread.
type StreamCallbacks struct {
	// Data receives interleaved samples in the stream's native format.
	Data func(raw []byte, frames uint32)
	// Stopped fires whenever the device stops, requested or not.
	Stopped func()
}

// Stream is an opened, not yet started, input stream. Close must not return
// while a callback is still executing.
type Stream interface {
	Format() StreamFormat
	Start() error
	Close() error
}

// Host abstracts the platform audio subsystem.
type Host interface {
	InputDevices() ([]Device, error)
	// OpenInput opens deviceID, or the default input when deviceID is empty,
	// using the device's native format.
	OpenInput(deviceID string, callbacks StreamCallbacks) (Stream, error)
}

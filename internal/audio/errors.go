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

import "errors"

// Device errors surface on the control path. ErrStreamRuntime and
// ErrDeviceLost travel through the error sink while a stream is running.
var (
	ErrDeviceEnumeration = errors.New("audio device enumeration failed")
	ErrDeviceNotFound    = errors.New("audio device not found")
	ErrStreamConfig      = errors.New("audio stream configuration failed")
	ErrUnsupportedFormat = errors.New("unsupported audio sample format")
	ErrStreamRuntime     = errors.New("audio device error")
	ErrDeviceLost        = errors.New("device stopped unexpectedly")
)

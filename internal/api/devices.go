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

package api

import (
	"net/http"

	"github.com/loqalabs/loqa-lectern/internal/audio"
	"github.com/loqalabs/loqa-lectern/internal/logging"
)

// DeviceController is the device side of the capture engine.
type DeviceController interface {
	ListDevices() ([]audio.Device, error)
	SelectDevice(id string) error
	SelectedDevice() string
	SetVADThreshold(threshold float32)
	VADThreshold() float32
}

// DevicesHandler serves input device selection and the energy gate.
type DevicesHandler struct {
	capture DeviceController
}

// NewDevicesHandler creates a devices handler.
func NewDevicesHandler(capture DeviceController) *DevicesHandler {
	return &DevicesHandler{capture: capture}
}

// DevicesResponse lists input devices.
type DevicesResponse struct {
	Devices  []audio.Device `json:"devices"`
	Selected string         `json:"selected"`
}

// VADResponse reports the energy gate.
type VADResponse struct {
	Threshold float32 `json:"threshold"`
}

type selectRequest struct {
	DeviceID string `json:"device_id"`
}

type vadRequest struct {
	Threshold *float32 `json:"threshold"`
}

// HandleDevices handles GET /api/devices
func (h *DevicesHandler) HandleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	devices, err := h.capture.ListDevices()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DevicesResponse{Devices: nonNil(devices), Selected: h.capture.SelectedDevice()})
}

// HandleSelect handles POST /api/devices/select. An empty device_id selects
// the host default. A running capture moves to the new device.
func (h *DevicesHandler) HandleSelect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req selectRequest
	if err := readJSON(r, &req); err != nil {
		badRequest(w, "Invalid JSON")
		return
	}
	if err := h.capture.SelectDevice(req.DeviceID); err != nil {
		writeError(w, r, err)
		return
	}

	logging.LogAudioCapture(req.DeviceID, "selected")
	devices, err := h.capture.ListDevices()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DevicesResponse{Devices: nonNil(devices), Selected: h.capture.SelectedDevice()})
}

// HandleVAD handles GET and POST /api/audio/vad
func (h *DevicesHandler) HandleVAD(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		var req vadRequest
		if err := readJSON(r, &req); err != nil {
			badRequest(w, "Invalid JSON")
			return
		}
		if req.Threshold == nil || *req.Threshold < 0 || *req.Threshold > 1 {
			badRequest(w, "threshold must be between 0 and 1")
			return
		}
		h.capture.SetVADThreshold(*req.Threshold)
	default:
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, VADResponse{Threshold: h.capture.VADThreshold()})
}

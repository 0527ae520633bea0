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
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/loqalabs/loqa-lectern/internal/events"
	"github.com/loqalabs/loqa-lectern/internal/inference"
	"github.com/loqalabs/loqa-lectern/internal/logging"
	"github.com/loqalabs/loqa-lectern/internal/session"
)

// SessionController is the part of the session orchestrator the control
// surface drives.
type SessionController interface {
	StartSession(ctx context.Context) error
	StopSession() error
	State() session.State
	SessionID() string
	SetPaused(paused bool)
	Paused() bool
	SetWindowSize(samples int) int
	WindowSize() int

	Stage(item events.DisplayItem)
	Staged() events.DisplayItem
	GoLive(item events.DisplayItem) error
	ClearLive()
	Live() events.DisplayItem
	UpdateLiveTimer(startedAt *int64) error
}

// ModelStatus reports whether the speech and embedding models are resident.
type ModelStatus interface {
	State() inference.ModelState
}

// SessionHandler serves session lifecycle and output control.
type SessionHandler struct {
	session SessionController
	models  ModelStatus
}

// NewSessionHandler creates a session handler. models may be nil.
func NewSessionHandler(s SessionController, models ModelStatus) *SessionHandler {
	return &SessionHandler{session: s, models: models}
}

// SessionResponse describes the current session.
type SessionResponse struct {
	State         string `json:"state"`
	SessionID     string `json:"session_id,omitempty"`
	Paused        bool   `json:"paused"`
	WindowSamples int    `json:"window_samples"`
	Models        string `json:"models,omitempty"`
}

// LiveResponse describes the output and preview screens.
type LiveResponse struct {
	Live   events.Tagged `json:"live"`
	Staged events.Tagged `json:"staged"`
}

type itemRequest struct {
	Item events.Tagged `json:"item"`
}

type pauseRequest struct {
	Paused bool `json:"paused"`
}

type windowRequest struct {
	Samples int `json:"samples"`
}

type timerRequest struct {
	StartedAt *int64 `json:"started_at"`
}

func (h *SessionHandler) snapshot() SessionResponse {
	resp := SessionResponse{
		State:         h.session.State().String(),
		SessionID:     h.session.SessionID(),
		Paused:        h.session.Paused(),
		WindowSamples: h.session.WindowSize(),
	}
	if h.models != nil {
		resp.Models = h.models.State().String()
	}
	return resp
}

// HandleSession handles GET /api/session
func (h *SessionHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, h.snapshot())
}

// HandleStart handles POST /api/session/start. It returns once the session
// is running, which includes the first model load.
func (h *SessionHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	// a client hanging up must not abort a model load
	if err := h.session.StartSession(context.WithoutCancel(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.snapshot())
}

// HandleStop handles POST /api/session/stop
func (h *SessionHandler) HandleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if err := h.session.StopSession(); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.snapshot())
}

// HandlePause handles POST /api/session/pause
func (h *SessionHandler) HandlePause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	req := pauseRequest{Paused: true}
	if err := readJSON(r, &req); err != nil {
		badRequest(w, "Invalid JSON")
		return
	}
	h.session.SetPaused(req.Paused)
	writeJSON(w, http.StatusOK, h.snapshot())
}

// HandleWindow handles POST /api/session/window. Out-of-range sizes are
// clamped, not rejected.
func (h *SessionHandler) HandleWindow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req windowRequest
	if err := readJSON(r, &req); err != nil {
		badRequest(w, "Invalid JSON")
		return
	}
	if req.Samples <= 0 {
		badRequest(w, "samples must be a positive integer")
		return
	}

	applied := h.session.SetWindowSize(req.Samples)
	logging.LogSession(h.session.SessionID(), h.session.State().String(),
		zap.Int("requested_window", req.Samples),
		zap.Int("window_samples", applied))
	writeJSON(w, http.StatusOK, h.snapshot())
}

// HandleLive handles GET, POST and DELETE /api/live. POST with no item
// sends the staged item live.
func (h *SessionHandler) HandleLive(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		var req itemRequest
		if err := readJSON(r, &req); err != nil {
			badRequest(w, "Invalid JSON")
			return
		}
		if err := h.session.GoLive(req.Item.Item); err != nil {
			writeError(w, r, err)
			return
		}
	case http.MethodDelete:
		h.session.ClearLive()
	default:
		methodNotAllowed(w)
		return
	}
	h.writeLive(w)
}

// HandleStage handles POST and DELETE /api/live/stage
func (h *SessionHandler) HandleStage(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req itemRequest
		if err := readJSON(r, &req); err != nil {
			badRequest(w, "Invalid JSON")
			return
		}
		if req.Item.Item == nil {
			badRequest(w, "item is required")
			return
		}
		h.session.Stage(req.Item.Item)
	case http.MethodDelete:
		h.session.Stage(nil)
	default:
		methodNotAllowed(w)
		return
	}
	h.writeLive(w)
}

// HandleTimer handles POST /api/live/timer
func (h *SessionHandler) HandleTimer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req timerRequest
	if err := readJSON(r, &req); err != nil {
		badRequest(w, "Invalid JSON")
		return
	}
	if err := h.session.UpdateLiveTimer(req.StartedAt); err != nil {
		writeError(w, r, err)
		return
	}
	h.writeLive(w)
}

func (h *SessionHandler) writeLive(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, LiveResponse{
		Live:   events.Tagged{Item: h.session.Live()},
		Staged: events.Tagged{Item: h.session.Staged()},
	})
}

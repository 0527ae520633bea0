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
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/loqalabs/loqa-lectern/internal/audio"
	"github.com/loqalabs/loqa-lectern/internal/corpus"
	"github.com/loqalabs/loqa-lectern/internal/inference"
	"github.com/loqalabs/loqa-lectern/internal/logging"
	"github.com/loqalabs/loqa-lectern/internal/security"
	"github.com/loqalabs/loqa-lectern/internal/session"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrAlreadyRunning),
		errors.Is(err, session.ErrNotRunning),
		errors.Is(err, session.ErrNoLiveTimer):
		return http.StatusConflict
	case errors.Is(err, session.ErrNothingStaged),
		errors.Is(err, security.ErrInvalidTranslationCode):
		return http.StatusBadRequest
	case errors.Is(err, corpus.ErrUnknownTranslation),
		errors.Is(err, audio.ErrDeviceNotFound):
		return http.StatusNotFound
	case errors.Is(err, inference.ErrModelLoad),
		errors.Is(err, inference.ErrInference),
		errors.Is(err, audio.ErrDeviceEnumeration):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.LogError(err, "Failed to write response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logging.LogError(err, "Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path))
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: message})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "Method not allowed"})
}

// readJSON decodes an optional request body. An empty body leaves data
// untouched.
func readJSON(r *http.Request, data interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	defer func() { _ = r.Body.Close() }()
	return json.NewDecoder(r.Body).Decode(data)
}

// parseIntParam parses an integer query parameter, falling back to
// defaultValue when it is absent or malformed.
func parseIntParam(param string, defaultValue int) int {
	if param == "" {
		return defaultValue
	}
	if value, err := strconv.Atoi(param); err == nil {
		return value
	}
	return defaultValue
}

// requireInt parses a mandatory positive integer query parameter.
func requireInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	value := parseIntParam(r.URL.Query().Get(name), 0)
	if value <= 0 {
		badRequest(w, name+" must be a positive integer")
		return 0, false
	}
	return value, true
}

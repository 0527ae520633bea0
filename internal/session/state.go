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

package session

import (
	"errors"
	"strings"
)

var (
	// ErrAlreadyRunning is returned when a session is loading or running.
	ErrAlreadyRunning = errors.New("a session is already running")
	// ErrNotRunning is returned when there is no session to stop.
	ErrNotRunning = errors.New("no session is running")
	// ErrNothingStaged is returned by GoLive with no item and nothing staged.
	ErrNothingStaged = errors.New("nothing staged to go live")
	// ErrNoLiveTimer is returned when a timer update arrives but the live
	// item is not a timer.
	ErrNoLiveTimer = errors.New("live item is not a timer")
)

// State is the lifecycle position of the orchestrator.
type State int32

const (
	Idle State = iota
	Loading
	Running
	Stopping
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Window bounds, in 16 kHz samples.
const (
	MinWindowSamples     = 8000
	MaxWindowSamples     = 48000
	DefaultWindowSamples = 16000
	OverlapSamples       = 4000
	PausedSamples        = 8000
)

// ClampWindow bounds a requested window size.
func ClampWindow(samples int) int {
	return min(max(samples, MinWindowSamples), MaxWindowSamples)
}

// Speech models emit these markers for windows without speech.
var placeholders = []string{
	"[blank_audio]", "[silence]", "[music]",
	"[inaudible]", "(silence)", "[ silence ]",
}

// isPlaceholder reports whether a transcript carries no speech.
func isPlaceholder(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return true
	}
	for _, p := range placeholders {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

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

package events

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind names an event stream. The strings are the contract with display
// clients.
type Kind string

const (
	KindSessionStatus Kind = "session-status"
	KindTranscription Kind = "transcription-update"
	KindAudioLevel    Kind = "audio-level"
	KindAudioError    Kind = "audio-error"
	KindLive          Kind = "live-update"
	KindStage         Kind = "stage-update"
)

// Status values carried by session-status events.
const (
	StatusLoading = "loading"
	StatusRunning = "running"
	StatusStopped = "stopped"
	StatusError   = "error"
)

// Event is one published notification.
type Event struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	SessionID string    `json:"session_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// New stamps a payload with an id and the current time.
func New(kind Kind, sessionID string, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		SessionID: sessionID,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}

// SessionStatus reports a session lifecycle change.
type SessionStatus struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// TranscriptionUpdate is emitted per processed window and on manual go-live.
type TranscriptionUpdate struct {
	Text         string  `json:"text"`
	DetectedItem Tagged  `json:"detected_item"`
	Confidence   float32 `json:"confidence"`
	Source       string  `json:"source"`
}

func (e Event) String() string {
	return fmt.Sprintf("Event{ID: %s, Kind: %s, Session: %s}", e.ID, e.Kind, e.SessionID)
}

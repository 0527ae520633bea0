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

//go:build !whisper

package inference

import (
	"context"
	"fmt"
)

// WhisperTranscriber is unavailable in builds without the whisper tag
type WhisperTranscriber struct{}

// NewWhisperTranscriber always fails so a session reports the missing backend
func NewWhisperTranscriber(modelPath, language string) (*WhisperTranscriber, error) {
	return nil, fmt.Errorf("%w: whisper transcription disabled (build with -tags whisper to enable)", ErrModelLoad)
}

// Transcribe stub implementation
func (wt *WhisperTranscriber) Transcribe(context.Context, []float32) (string, error) {
	return "", fmt.Errorf("whisper transcription disabled (build with -tags whisper to enable)")
}

// Close stub implementation
func (wt *WhisperTranscriber) Close() error {
	return nil
}

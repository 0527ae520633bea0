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

//go:build whisper

package inference

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/loqalabs/loqa-lectern/internal/logging"
	"go.uber.org/zap"
)

// WhisperTranscriber runs whisper.cpp in process
type WhisperTranscriber struct {
	model     whisper.Model
	modelPath string
	language  string
	threads   uint
}

// NewWhisperTranscriber loads a ggml model from disk
func NewWhisperTranscriber(modelPath, language string) (*WhisperTranscriber, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("%w: whisper model not found at %s", ErrModelLoad, modelPath)
	}

	model, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("%w: whisper: %v", ErrModelLoad, err)
	}

	logging.LogInference("load_whisper", zap.String("path", modelPath))
	return &WhisperTranscriber{
		model:     model,
		modelPath: modelPath,
		language:  language,
		threads:   uint(runtime.NumCPU()),
	}, nil
}

// Transcribe decodes the whole window greedily with every available core
func (wt *WhisperTranscriber) Transcribe(_ context.Context, audio []float32) (string, error) {
	if wt.model == nil {
		return "", fmt.Errorf("whisper model not initialized")
	}

	wctx, err := wt.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("failed to create whisper context: %w", err)
	}

	wctx.SetThreads(wt.threads)
	if wt.language != "" {
		if err := wctx.SetLanguage(wt.language); err != nil {
			return "", fmt.Errorf("failed to set language %q: %w", wt.language, err)
		}
	}

	if err := wctx.Process(audio, nil, nil, nil); err != nil {
		return "", fmt.Errorf("failed to process audio: %w", err)
	}

	var transcript strings.Builder
	for {
		segment, err := wctx.NextSegment()
		if err != nil {
			break
		}
		transcript.WriteString(segment.Text)
	}

	return strings.TrimSpace(transcript.String()), nil
}

// Close releases the model
func (wt *WhisperTranscriber) Close() error {
	if wt.model != nil {
		return wt.model.Close()
	}
	return nil
}

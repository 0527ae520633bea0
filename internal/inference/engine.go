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

package inference

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loqalabs/loqa-lectern/internal/logging"
	"go.uber.org/zap"
)

const (
	// SampleRate is the only rate the transcribers accept.
	SampleRate = 16000
	// EmbeddingDim is the width of all-MiniLM-L6-v2 sentence vectors.
	EmbeddingDim = 384
)

// Transcriber turns a mono 16 kHz window into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []float32) (string, error)
	Close() error
}

// Embedder turns text into a sentence vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Close() error
}

// Engine pairs a transcriber with an embedder. It is safe for concurrent use
// as long as both backends are.
type Engine struct {
	stt Transcriber
	emb Embedder
}

// NewEngine wraps loaded backends.
func NewEngine(stt Transcriber, emb Embedder) *Engine {
	return &Engine{stt: stt, emb: emb}
}

// Transcribe runs speech-to-text over the whole window and returns the
// trimmed concatenation of all segments.
func (e *Engine) Transcribe(ctx context.Context, audio []float32) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("%w: empty audio window", ErrInference)
	}

	start := time.Now()
	text, err := e.stt.Transcribe(ctx, audio)
	if err != nil {
		return "", wrapInference("transcribe", err)
	}

	logging.LogInference("transcribe",
		zap.Int("samples", len(audio)),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		zap.Int("text_length", len(text)),
	)
	return text, nil
}

// Embed returns the unit-length sentence vector for text.
func (e *Engine) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.emb.Embed(ctx, text)
	if err != nil {
		return nil, wrapInference("embed", err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: embed returned an empty vector", ErrInference)
	}
	return vec, nil
}

// Close releases both backends.
func (e *Engine) Close() error {
	return errors.Join(e.stt.Close(), e.emb.Close())
}

func wrapInference(op string, err error) error {
	if errors.Is(err, ErrInference) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrInference, op, err)
}

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
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-lectern/internal/config"
	"github.com/loqalabs/loqa-lectern/internal/logging"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ModelState tracks the process-wide model lifecycle.
type ModelState int32

const (
	ModelsUnloaded ModelState = iota
	ModelsLoading
	ModelsReady
)

func (s ModelState) String() string {
	switch s {
	case ModelsLoading:
		return "loading"
	case ModelsReady:
		return "ready"
	default:
		return "unloaded"
	}
}

// LoadFunc builds a fully loaded engine. It may take seconds.
type LoadFunc func(ctx context.Context) (*Engine, error)

// Loader loads models at most once per process. Concurrent callers share a
// single in-flight load; a failed load returns to Unloaded so the next call
// retries.
type Loader struct {
	load   LoadFunc
	group  singleflight.Group
	state  atomic.Int32
	engine atomic.Pointer[Engine]
}

// NewLoader wraps load.
func NewLoader(load LoadFunc) *Loader {
	return &Loader{load: load}
}

// State returns the current lifecycle state.
func (l *Loader) State() ModelState {
	return ModelState(l.state.Load())
}

// Engine returns the loaded engine, or nil before the first successful load.
func (l *Loader) Engine() *Engine {
	return l.engine.Load()
}

// Load returns the resident engine, loading it first if needed. Cancelling
// ctx abandons the wait but not the load itself.
func (l *Loader) Load(ctx context.Context) (*Engine, error) {
	if e := l.engine.Load(); e != nil {
		return e, nil
	}

	ch := l.group.DoChan("models", func() (interface{}, error) {
		if e := l.engine.Load(); e != nil {
			return e, nil
		}

		l.state.Store(int32(ModelsLoading))
		start := time.Now()

		e, err := l.load(context.Background())
		if err != nil {
			l.state.Store(int32(ModelsUnloaded))
			if !errors.Is(err, ErrModelLoad) {
				err = fmt.Errorf("%w: %v", ErrModelLoad, err)
			}
			return nil, err
		}

		l.engine.Store(e)
		l.state.Store(int32(ModelsReady))
		logging.LogInference("load", zap.Int64("duration_ms", time.Since(start).Milliseconds()))
		return e, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Engine), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close releases the engine if one was loaded.
func (l *Loader) Close() error {
	if e := l.engine.Swap(nil); e != nil {
		l.state.Store(int32(ModelsUnloaded))
		return e.Close()
	}
	return nil
}

// FromConfig returns a LoadFunc for the configured backends.
func FromConfig(cfg config.ModelsConfig) LoadFunc {
	return func(ctx context.Context) (*Engine, error) {
		var stt Transcriber
		switch cfg.Transcriber {
		case "remote":
			r, err := NewRemoteTranscriber(ctx, cfg.STTURL, cfg.Language, cfg.Timeout)
			if err != nil {
				return nil, err
			}
			stt = r
		default:
			w, err := NewWhisperTranscriber(cfg.WhisperModel, cfg.Language)
			if err != nil {
				return nil, err
			}
			stt = w
		}

		var emb Embedder
		switch cfg.Embedder {
		case "openai":
			o, err := NewOpenAIEmbedder(cfg.EmbeddingURL, cfg.EmbeddingKey, cfg.EmbeddingName, EmbeddingDim, cfg.Timeout)
			if err != nil {
				_ = stt.Close()
				return nil, err
			}
			emb = o
		default:
			o, err := NewONNXEmbedder(cfg.EmbeddingPath, cfg.TokenizerPath, cfg.ONNXLibrary)
			if err != nil {
				_ = stt.Close()
				return nil, err
			}
			emb = o
		}

		return NewEngine(stt, emb), nil
	}
}

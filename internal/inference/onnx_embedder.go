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

//go:build onnx

package inference

import (
	"context"
	"fmt"
	"sync"

	"github.com/loqalabs/loqa-lectern/internal/logging"
	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

// maxTokens keeps inputs inside the model's position table.
const maxTokens = 256

// ONNXEmbedder runs a sentence-transformer exported to ONNX.
type ONNXEmbedder struct {
	mu        sync.Mutex
	session   *ort.DynamicAdvancedSession
	tokenizer *tokenizer.Tokenizer
}

// NewONNXEmbedder loads the model and its HuggingFace tokenizer.json.
// libraryPath points at the onnxruntime shared library; empty uses the
// platform default search.
func NewONNXEmbedder(modelPath, tokenizerPath, libraryPath string) (*ONNXEmbedder, error) {
	if !ort.IsInitialized() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("%w: onnxruntime: %v", ErrModelLoad, err)
		}
	}

	tk, err := pretrained.FromFile(tokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("%w: tokenizer %s: %v", ErrModelLoad, tokenizerPath, err)
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding model %s: %v", ErrModelLoad, modelPath, err)
	}

	logging.LogInference("load_embedding", zap.String("path", modelPath))
	return &ONNXEmbedder{session: session, tokenizer: tk}, nil
}

// Embed tokenises text, runs the model and mean-pools the last hidden state.
func (o *ONNXEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	enc, err := o.tokenizer.EncodeSingle(text, true)
	if err != nil {
		return nil, fmt.Errorf("tokenize: %w", err)
	}

	ids, mask, types := toInt64(enc.Ids), toInt64(enc.AttentionMask), toInt64(enc.TypeIds)
	if len(ids) > maxTokens {
		ids, mask, types = ids[:maxTokens], mask[:maxTokens], types[:maxTokens]
	}
	seqLen := len(ids)
	if seqLen == 0 {
		return nil, fmt.Errorf("tokenizer produced no tokens")
	}
	if len(types) != seqLen {
		types = make([]int64, seqLen)
	}

	shape := ort.NewShape(1, int64(seqLen))
	idsT, err := ort.NewTensor(shape, ids)
	if err != nil {
		return nil, err
	}
	defer idsT.Destroy()

	maskT, err := ort.NewTensor(shape, mask)
	if err != nil {
		return nil, err
	}
	defer maskT.Destroy()

	typesT, err := ort.NewTensor(shape, types)
	if err != nil {
		return nil, err
	}
	defer typesT.Destroy()

	hiddenT, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(seqLen), EmbeddingDim))
	if err != nil {
		return nil, err
	}
	defer hiddenT.Destroy()

	if err := o.session.Run(
		[]ort.ArbitraryTensor{idsT, maskT, typesT},
		[]ort.ArbitraryTensor{hiddenT},
	); err != nil {
		return nil, fmt.Errorf("run: %w", err)
	}

	return Normalize(MeanPool(hiddenT.GetData(), seqLen, EmbeddingDim)), nil
}

// Close destroys the session.
func (o *ONNXEmbedder) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.session == nil {
		return nil
	}
	err := o.session.Destroy()
	o.session = nil
	return err
}

func toInt64(v []int) []int64 {
	out := make([]int64, len(v))
	for i, x := range v {
		out[i] = int64(x)
	}
	return out
}

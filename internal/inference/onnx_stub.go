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

//go:build !onnx

package inference

import (
	"context"
	"fmt"
)

// ONNXEmbedder is unavailable in builds without the onnx tag
type ONNXEmbedder struct{}

// NewONNXEmbedder always fails so a session reports the missing backend
func NewONNXEmbedder(modelPath, tokenizerPath, libraryPath string) (*ONNXEmbedder, error) {
	return nil, fmt.Errorf("%w: onnx embeddings disabled (build with -tags onnx to enable)", ErrModelLoad)
}

// Embed stub implementation
func (o *ONNXEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("onnx embeddings disabled (build with -tags onnx to enable)")
}

// Close stub implementation
func (o *ONNXEmbedder) Close() error {
	return nil
}

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

package corpus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"time"

	"github.com/sbinet/npyio"
	"go.uber.org/zap"

	"github.com/loqalabs/loqa-lectern/internal/inference"
	"github.com/loqalabs/loqa-lectern/internal/logging"
	"github.com/loqalabs/loqa-lectern/internal/storage"
)

// TextSource supplies corpus rows per translation.
type TextSource interface {
	Versions(ctx context.Context) ([]string, error)
	LoadVersion(ctx context.Context, version string) ([]storage.VerseRow, error)
}

// LoadOptions locates the corpus artifacts.
type LoadOptions struct {
	Options

	// Translations in stacking order; the embedding matrix must have been
	// generated in the same order.
	Translations   []string
	EmbeddingsPath string
	IndexPath      string
}

// indexEntry is one element of verse_index.json.
type indexEntry struct {
	Book    string `json:"book"`
	Chapter int    `json:"chapter"`
	Verse   int    `json:"verse"`
	Version string `json:"version"`
}

// Load reads every configured translation present in src, then the
// embedding matrix and its sidecar index. A missing matrix disables semantic
// search; a matrix that does not line up with the records is fatal.
func Load(ctx context.Context, src TextSource, opts LoadOptions) (*Index, error) {
	start := time.Now()

	available, err := src.Versions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list translations: %w", err)
	}

	var records []Record
	for _, version := range opts.Translations {
		if !slices.Contains(available, version) {
			logging.LogWarn("Translation not found in corpus database, skipping",
				zap.String("translation", version))
			continue
		}
		rows, err := src.LoadVersion(ctx, version)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			records = append(records, Record{
				Row:         len(records),
				Book:        row.Book,
				Chapter:     row.Chapter,
				Verse:       row.Verse,
				Translation: row.Version,
				Text:        row.Text,
			})
		}
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: none of %v found in corpus database", ErrIndexInvariant, opts.Translations)
	}

	matrix, err := readMatrix(opts.EmbeddingsPath, len(records))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logging.LogWarn("Embedding matrix not found, semantic search disabled",
			zap.String("path", opts.EmbeddingsPath))
		matrix = nil
	case err != nil:
		return nil, err
	}

	if matrix != nil && opts.IndexPath != "" {
		if err := checkIndex(opts.IndexPath, records); err != nil {
			return nil, err
		}
	}

	idx, err := New(records, matrix, opts.Options)
	if err != nil {
		return nil, err
	}

	logging.LogDatabaseOperation("LOAD", "super_bible",
		zap.Int("records", idx.Len()),
		zap.Strings("translations", idx.Translations()),
		zap.Bool("semantic", idx.SemanticEnabled()),
		zap.Duration("elapsed", time.Since(start)))
	return idx, nil
}

// readMatrix decodes a C-order little-endian float32 .npy file of shape
// (rows, EmbeddingDim).
func readMatrix(path string, rows int) ([]float32, error) {
	if path == "" {
		return nil, fs.ErrNotExist
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, err := npyio.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrIndexInvariant, path, err)
	}

	descr := r.Header.Descr
	if descr.Type != "<f4" || descr.Fortran {
		return nil, fmt.Errorf("%w: %s has dtype %s (fortran=%t), want C-order <f4",
			ErrIndexInvariant, path, descr.Type, descr.Fortran)
	}
	if len(descr.Shape) != 2 || descr.Shape[1] != inference.EmbeddingDim {
		return nil, fmt.Errorf("%w: %s has shape %v, want (N, %d)",
			ErrIndexInvariant, path, descr.Shape, inference.EmbeddingDim)
	}
	if descr.Shape[0] != rows {
		return nil, fmt.Errorf("%w: %s has %d rows but corpus has %d records",
			ErrIndexInvariant, path, descr.Shape[0], rows)
	}

	var matrix []float32
	if err := r.Read(&matrix); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrIndexInvariant, path, err)
	}
	return matrix, nil
}

// checkIndex verifies that every matrix row describes the same locator as
// the record at that position. A missing sidecar is not an error.
func checkIndex(path string, records []Record) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		logging.LogWarn("Verse index not found, skipping row parity check", zap.String("path", path))
		return nil
	}
	if err != nil {
		return err
	}

	var entries []indexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrIndexInvariant, path, err)
	}
	if len(entries) != len(records) {
		return fmt.Errorf("%w: %s has %d entries but corpus has %d records",
			ErrIndexInvariant, path, len(entries), len(records))
	}

	for i, e := range entries {
		r := records[i]
		if e.Book != r.Book || e.Chapter != r.Chapter || e.Verse != r.Verse || e.Version != r.Translation {
			return fmt.Errorf("%w: row %d is %s %d:%d (%s) in %s but %s (%s) in corpus",
				ErrIndexInvariant, i, e.Book, e.Chapter, e.Verse, e.Version, path, r.Reference(), r.Translation)
		}
	}
	return nil
}

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
	"sort"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/loqalabs/loqa-lectern/internal/inference"
	"github.com/loqalabs/loqa-lectern/internal/logging"
)

// DetectHybrid matches a transcript against the corpus. An explicit
// reference that resolves in the active translation always wins with
// confidence 1. Otherwise the embedding, when given, is scored against
// every row and the best row is accepted at or above the similarity
// threshold. Embeddings must be L2-normalised so the dot product is the
// cosine similarity.
func (idx *Index) DetectHybrid(text string, embedding []float32) Detection {
	active := idx.ActiveTranslation()

	for _, ref := range ParseReferences(text) {
		if row, ok := idx.lookupRow(ref.Book, ref.Chapter, ref.Verse, active); ok {
			r := idx.records[row]
			logging.LogDetection(string(SourceExplicit), zap.String("reference", r.Reference()))
			return Detection{Record: &r, Confidence: 1, Source: SourceExplicit}
		}
	}

	scores := idx.score(embedding)
	if scores == nil {
		return Detection{Source: SourceNone}
	}

	best, bestScore := 0, scores[0]
	for i, s := range scores[1:] {
		if s > bestScore {
			best, bestScore = i+1, s
		}
	}
	if bestScore < idx.threshold {
		logging.LogDetection(string(SourceNone), zap.Float32("best_score", bestScore))
		return Detection{Source: SourceNone}
	}

	r := idx.inActive(best, active)
	logging.LogDetection(string(SourceSemantic),
		zap.String("reference", r.Reference()),
		zap.Float32("confidence", bestScore))
	return Detection{Record: &r, Confidence: bestScore, Source: SourceSemantic}
}

// SemanticTopN returns up to n best-scoring verses, one per locator,
// rendered in the active translation where available.
func (idx *Index) SemanticTopN(embedding []float32, n int) []Match {
	scores := idx.score(embedding)
	if scores == nil || n <= 0 {
		return nil
	}

	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	active := idx.ActiveTranslation()
	seen := make(map[locator]bool)
	var matches []Match
	for _, row := range order {
		src := idx.records[row]
		key := locator{book: src.Book, chapter: src.Chapter, verse: src.Verse}
		if seen[key] {
			continue
		}
		seen[key] = true

		matches = append(matches, Match{Record: idx.inActive(row, active), Score: scores[row]})
		if len(matches) == n {
			break
		}
	}
	return matches
}

// score computes the similarity of embedding against every row with one
// matrix-vector product. It returns nil when semantic search is
// unavailable or the vector has the wrong dimension.
func (idx *Index) score(embedding []float32) []float32 {
	if idx.matrix == nil || len(embedding) != inference.EmbeddingDim {
		return nil
	}

	scores := make([]float32, len(idx.records))
	blas32.Gemv(blas.NoTrans, 1,
		blas32.General{
			Rows:   len(idx.records),
			Cols:   inference.EmbeddingDim,
			Stride: inference.EmbeddingDim,
			Data:   idx.matrix,
		},
		blas32.Vector{N: len(embedding), Inc: 1, Data: embedding},
		0,
		blas32.Vector{N: len(scores), Inc: 1, Data: scores},
	)
	return scores
}

// inActive re-resolves the locator of row in the active translation,
// falling back to row itself.
func (idx *Index) inActive(row int, active string) Record {
	src := idx.records[row]
	if src.Translation == active {
		return src
	}
	if alt, ok := idx.byLocator[locator{active, lower(src.Book), src.Chapter, src.Verse}]; ok {
		return idx.records[alt]
	}
	logging.LogWarn("Matched verse missing from active translation",
		zap.String("reference", src.Reference()),
		zap.String("matched_translation", src.Translation),
		zap.String("active_translation", active))
	return src
}

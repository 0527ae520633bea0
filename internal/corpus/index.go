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
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/loqalabs/loqa-lectern/internal/inference"
	"github.com/loqalabs/loqa-lectern/internal/logging"
)

// DefaultSimilarityThreshold is the minimum cosine score a semantic match
// must reach.
const DefaultSimilarityThreshold float32 = 0.45

// Options controls index behaviour.
type Options struct {
	ActiveTranslation   string
	SimilarityThreshold float32
}

type locator struct {
	translation string
	book        string
	chapter     int
	verse       int
}

type span struct {
	start, end int
}

// Index is the in-memory reference corpus. Records and the embedding matrix
// are immutable after construction; only the active translation changes.
type Index struct {
	records      []Record
	lowered      []string
	matrix       []float32
	threshold    float32
	translations []string
	spans        map[string]span
	byLocator    map[locator]int

	mu     sync.RWMutex
	active string
}

// New builds an index over records. matrix is row-major with
// inference.EmbeddingDim columns and one row per record; nil disables
// semantic search. Each translation's records must be contiguous.
func New(records []Record, matrix []float32, opts Options) (*Index, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: corpus has no records", ErrIndexInvariant)
	}
	if matrix != nil && len(matrix) != len(records)*inference.EmbeddingDim {
		return nil, fmt.Errorf("%w: matrix has %d values, want %d rows x %d",
			ErrIndexInvariant, len(matrix), len(records), inference.EmbeddingDim)
	}

	idx := &Index{
		records:   make([]Record, len(records)),
		lowered:   make([]string, len(records)),
		matrix:    matrix,
		threshold: opts.SimilarityThreshold,
		spans:     make(map[string]span),
		byLocator: make(map[locator]int, len(records)),
	}
	if idx.threshold <= 0 {
		idx.threshold = DefaultSimilarityThreshold
	}

	for i, r := range records {
		r.Row = i
		idx.records[i] = r
		idx.lowered[i] = strings.ToLower(r.Text)

		s, seen := idx.spans[r.Translation]
		switch {
		case !seen:
			idx.translations = append(idx.translations, r.Translation)
			idx.spans[r.Translation] = span{start: i, end: i + 1}
		case s.end == i:
			s.end = i + 1
			idx.spans[r.Translation] = s
		default:
			return nil, fmt.Errorf("%w: translation %s is not contiguous at row %d",
				ErrIndexInvariant, r.Translation, i)
		}

		key := locator{r.Translation, strings.ToLower(r.Book), r.Chapter, r.Verse}
		if _, dup := idx.byLocator[key]; !dup {
			idx.byLocator[key] = i
		}
	}

	idx.active = idx.translations[0]
	if opts.ActiveTranslation != "" {
		if _, ok := idx.spans[opts.ActiveTranslation]; ok {
			idx.active = opts.ActiveTranslation
		} else {
			logging.LogWarn("Configured translation not in corpus, using first available",
				zap.String("requested", opts.ActiveTranslation),
				zap.String("using", idx.active))
		}
	}

	return idx, nil
}

// Len returns the number of records.
func (idx *Index) Len() int {
	return len(idx.records)
}

// SemanticEnabled reports whether an embedding matrix is loaded.
func (idx *Index) SemanticEnabled() bool {
	return idx.matrix != nil
}

// Translations lists translations in corpus order.
func (idx *Index) Translations() []string {
	return append([]string(nil), idx.translations...)
}

// ActiveTranslation returns the translation explicit references resolve in.
func (idx *Index) ActiveTranslation() string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.active
}

// SetActiveTranslation switches the active translation.
func (idx *Index) SetActiveTranslation(translation string) error {
	if _, ok := idx.spans[translation]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTranslation, translation)
	}
	idx.mu.Lock()
	idx.active = translation
	idx.mu.Unlock()
	return nil
}

// record returns the record at row.
func (idx *Index) record(row int) (Record, bool) {
	if row < 0 || row >= len(idx.records) {
		return Record{}, false
	}
	return idx.records[row], true
}

// Lookup resolves a locator. Book may be any known alias; an empty
// translation means the active one.
func (idx *Index) Lookup(book string, chapter, verse int, translation string) (*Record, bool) {
	row, ok := idx.lookupRow(book, chapter, verse, idx.resolve(translation))
	if !ok {
		return nil, false
	}
	r := idx.records[row]
	return &r, true
}

func (idx *Index) lookupRow(book string, chapter, verse int, translation string) (int, bool) {
	name, _ := NormalizeBook(book)
	row, ok := idx.byLocator[locator{translation, strings.ToLower(name), chapter, verse}]
	return row, ok
}

func (idx *Index) resolve(translation string) string {
	if translation == "" {
		return idx.ActiveTranslation()
	}
	return translation
}

func (idx *Index) rows(translation string) []Record {
	s, ok := idx.spans[idx.resolve(translation)]
	if !ok {
		return nil
	}
	return idx.records[s.start:s.end]
}

// Books lists book titles of a translation in canonical order.
func (idx *Index) Books(translation string) []string {
	var books []string
	prev := ""
	for _, r := range idx.rows(translation) {
		if r.Book != prev {
			books = append(books, r.Book)
			prev = r.Book
		}
	}
	return books
}

// Chapters lists the chapter numbers of a book.
func (idx *Index) Chapters(book, translation string) []int {
	name, _ := NormalizeBook(book)
	var chapters []int
	for _, r := range idx.rows(translation) {
		if strings.EqualFold(r.Book, name) && (len(chapters) == 0 || chapters[len(chapters)-1] != r.Chapter) {
			chapters = append(chapters, r.Chapter)
		}
	}
	return chapters
}

// Verses lists the verse numbers of a chapter.
func (idx *Index) Verses(book string, chapter int, translation string) []int {
	name, _ := NormalizeBook(book)
	var verses []int
	for _, r := range idx.rows(translation) {
		if r.Chapter == chapter && strings.EqualFold(r.Book, name) {
			verses = append(verses, r.Verse)
		}
	}
	sort.Ints(verses)
	return verses
}

// Next returns the record following a locator within the same translation,
// crossing chapter and book boundaries. It returns false at the end of the
// translation or when the locator is unknown.
func (idx *Index) Next(book string, chapter, verse int, translation string) (*Record, bool) {
	t := idx.resolve(translation)
	row, ok := idx.lookupRow(book, chapter, verse, t)
	if !ok || row+1 >= idx.spans[t].end {
		return nil, false
	}
	r := idx.records[row+1]
	return &r, true
}

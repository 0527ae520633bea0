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
	"errors"
	"fmt"
)

var (
	// ErrIndexInvariant means the embedding matrix and the record list
	// disagree. It is fatal at construction.
	ErrIndexInvariant = errors.New("corpus index invariant violated")
	// ErrUnknownTranslation is returned for translations absent from the corpus.
	ErrUnknownTranslation = errors.New("unknown translation")
)

// Source tags how a detection was produced.
type Source string

const (
	SourceExplicit Source = "explicit-reference"
	SourceSemantic Source = "semantic"
	SourceNone     Source = "none"
	SourceManual   Source = "manual"
)

// Record is one immutable corpus row. Row is its position in the stacked
// corpus and in the embedding matrix.
type Record struct {
	Row         int    `json:"id"`
	Book        string `json:"book"`
	Chapter     int    `json:"chapter"`
	Verse       int    `json:"verse"`
	Translation string `json:"version"`
	Text        string `json:"text"`
}

// Reference formats the locator as "Book C:V".
func (r Record) Reference() string {
	return fmt.Sprintf("%s %d:%d", r.Book, r.Chapter, r.Verse)
}

// Detection is the outcome of matching one transcript.
type Detection struct {
	Record     *Record `json:"record,omitempty"`
	Confidence float32 `json:"confidence"`
	Source     Source  `json:"source"`
}

// Matched reports whether a record was found.
func (d Detection) Matched() bool {
	return d.Record != nil
}

// Match is a scored search hit.
type Match struct {
	Record Record  `json:"record"`
	Score  float32 `json:"score"`
}

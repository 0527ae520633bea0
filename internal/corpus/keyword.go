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
	"strings"
)

// KeywordLimit caps keyword search results.
const KeywordLimit = 10

// Words common to nearly every verse.
var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "that": true, "with": true, "this": true,
	"are": true, "was": true, "were": true, "they": true, "them": true, "from": true,
	"have": true, "has": true, "not": true, "but": true, "his": true, "her": true,
	"our": true, "your": true, "its": true, "who": true, "all": true, "one": true,
	"you": true, "him": true, "she": true, "what": true, "will": true, "said": true,
	"when": true, "also": true, "into": true, "unto": true, "shall": true,
	"thee": true, "thou": true, "thy": true,
}

// AllTranslations searches every translation.
const AllTranslations = "all"

func lower(s string) string {
	return strings.ToLower(s)
}

// KeywordTerms splits a query into lowercase search terms. Repeated words
// are kept and each repeat scores again.
func KeywordTerms(query string) []string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if len(w) < 2 || stopWords[w] {
			continue
		}
		terms = append(terms, w)
	}
	return terms
}

// KeywordSearch ranks verses by how many query terms occur in their text as
// substrings, so "love" also hits "loved". Ties keep corpus order. An empty
// translation or "all" searches every translation.
func (idx *Index) KeywordSearch(query, translation string) []Record {
	terms := KeywordTerms(query)
	if len(terms) == 0 {
		return nil
	}

	start, end := 0, len(idx.records)
	if translation != "" && !strings.EqualFold(translation, AllTranslations) {
		s, ok := idx.spans[translation]
		if !ok {
			return nil
		}
		start, end = s.start, s.end
	}

	type hit struct {
		row   int
		score int
	}
	var hits []hit
	for row := start; row < end; row++ {
		score := 0
		for _, term := range terms {
			if strings.Contains(idx.lowered[row], term) {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, hit{row, score})
		}
	}

	sort.SliceStable(hits, func(a, b int) bool {
		return hits[a].score > hits[b].score
	})
	if len(hits) > KeywordLimit {
		hits = hits[:KeywordLimit]
	}

	results := make([]Record, len(hits))
	for i, h := range hits {
		results[i] = idx.records[h.row]
	}
	return results
}

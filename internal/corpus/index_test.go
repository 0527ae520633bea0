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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Invariants(t *testing.T) {
	records := fixtureRecords()

	_, err := New(nil, nil, Options{})
	assert.ErrorIs(t, err, ErrIndexInvariant)

	_, err = New(records, identityMatrix(len(records)-1), Options{})
	assert.ErrorIs(t, err, ErrIndexInvariant, "row count must match")

	interleaved := append([]Record{}, records...)
	interleaved[1], interleaved[5] = interleaved[5], interleaved[1]
	_, err = New(interleaved, nil, Options{})
	assert.ErrorIs(t, err, ErrIndexInvariant, "translations must be contiguous")

	idx, err := New(records, nil, Options{})
	require.NoError(t, err)
	assert.False(t, idx.SemanticEnabled())
	assert.Equal(t, "KJV", idx.ActiveTranslation(), "first translation is active by default")
	for i := 0; i < idx.Len(); i++ {
		r, ok := idx.record(i)
		require.True(t, ok)
		assert.Equal(t, i, r.Row)
	}
}

func TestNew_UnknownActiveFallsBack(t *testing.T) {
	idx, err := New(fixtureRecords(), nil, Options{ActiveTranslation: "ESV"})
	require.NoError(t, err)
	assert.Equal(t, "KJV", idx.ActiveTranslation())
}

func TestIndex_Translations(t *testing.T) {
	idx := newFixtureIndex(t)

	assert.Equal(t, []string{"KJV", "NIV"}, idx.Translations())

	require.NoError(t, idx.SetActiveTranslation("NIV"))
	assert.Equal(t, "NIV", idx.ActiveTranslation())

	err := idx.SetActiveTranslation("MSG")
	assert.ErrorIs(t, err, ErrUnknownTranslation)
	assert.Equal(t, "NIV", idx.ActiveTranslation())
}

func TestIndex_Lookup(t *testing.T) {
	idx := newFixtureIndex(t)

	r, ok := idx.Lookup("jn", 3, 16, "")
	require.True(t, ok)
	assert.Equal(t, "KJV", r.Translation)
	assert.Equal(t, 2, r.Row)
	assert.Equal(t, "John 3:16", r.Reference())

	r, ok = idx.Lookup("John", 3, 16, "NIV")
	require.True(t, ok)
	assert.Equal(t, 6, r.Row)

	_, ok = idx.Lookup("John", 3, 17, "KJV")
	assert.False(t, ok)

	_, ok = idx.Lookup("John", 3, 16, "ESV")
	assert.False(t, ok)
}

func TestIndex_Browse(t *testing.T) {
	idx := newFixtureIndex(t)

	assert.Equal(t, []string{"Genesis", "John", "1 John"}, idx.Books("KJV"))
	assert.Equal(t, []string{"Genesis", "John"}, idx.Books("NIV"))
	assert.Nil(t, idx.Books("ESV"))

	assert.Equal(t, []int{1}, idx.Chapters("gen", ""))
	assert.Equal(t, []int{3}, idx.Chapters("John", "NIV"))

	assert.Equal(t, []int{16, 17}, idx.Verses("John", 3, "NIV"))
	assert.Equal(t, []int{1, 2}, idx.Verses("Genesis", 1, ""))

	next, ok := idx.Next("Genesis", 1, 2, "KJV")
	require.True(t, ok)
	assert.Equal(t, "John 3:16", next.Reference(), "crosses book boundary")

	_, ok = idx.Next("1 John", 4, 8, "KJV")
	assert.False(t, ok, "last verse of a translation has no successor")

	_, ok = idx.Next("John", 3, 16, "NIV")
	assert.True(t, ok)

	_, ok = idx.Next("John", 3, 17, "NIV")
	assert.False(t, ok, "does not run into the next translation")
}

func TestDetectHybrid(t *testing.T) {
	tests := []struct {
		name       string
		active     string
		text       string
		embedding  []float32
		wantSource Source
		wantRow    int
		wantConf   float32
	}{
		{
			name:       "Explicit reference",
			text:       "turn with me to John 3:16",
			wantSource: SourceExplicit,
			wantRow:    2,
			wantConf:   1,
		},
		{
			name:       "Explicit beats semantic",
			text:       "John 3 16",
			embedding:  vector(map[int]float32{0: 1}),
			wantSource: SourceExplicit,
			wantRow:    2,
			wantConf:   1,
		},
		{
			name:       "Worded ordinal",
			text:       "first john 4 8",
			wantSource: SourceExplicit,
			wantRow:    3,
			wantConf:   1,
		},
		{
			name:       "Active translation",
			active:     "NIV",
			text:       "John 3:16",
			wantSource: SourceExplicit,
			wantRow:    6,
			wantConf:   1,
		},
		{
			name:       "Unresolvable reference falls through to semantic",
			text:       "John 99:1",
			embedding:  vector(map[int]float32{1: 1}),
			wantSource: SourceSemantic,
			wantRow:    1,
			wantConf:   1,
		},
		{
			name:       "Semantic match re-resolved in active translation",
			text:       "god so loved the world",
			embedding:  vector(map[int]float32{6: 0.8, 300: 0.6}),
			wantSource: SourceSemantic,
			wantRow:    2,
			wantConf:   0.8,
		},
		{
			name:       "Semantic match missing from active translation keeps matched row",
			text:       "god did not send his son to condemn",
			embedding:  vector(map[int]float32{7: 0.5, 300: 0.866}),
			wantSource: SourceSemantic,
			wantRow:    7,
			wantConf:   0.5,
		},
		{
			name:       "Semantic score exactly at threshold is accepted",
			text:       "darkness upon the deep",
			embedding:  vector(map[int]float32{1: 0.45}),
			wantSource: SourceSemantic,
			wantRow:    1,
			wantConf:   0.45,
		},
		{
			name:       "Semantic below threshold",
			text:       "welcome everyone",
			embedding:  vector(map[int]float32{0: 0.4, 300: 0.9}),
			wantSource: SourceNone,
			wantRow:    -1,
		},
		{
			name:       "No embedding",
			text:       "welcome everyone",
			wantSource: SourceNone,
			wantRow:    -1,
		},
		{
			name:       "Wrong dimension is ignored",
			text:       "welcome everyone",
			embedding:  []float32{1, 0, 0},
			wantSource: SourceNone,
			wantRow:    -1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx := newFixtureIndex(t)
			if tt.active != "" {
				require.NoError(t, idx.SetActiveTranslation(tt.active))
			}

			got := idx.DetectHybrid(tt.text, tt.embedding)
			assert.Equal(t, tt.wantSource, got.Source)
			if tt.wantRow < 0 {
				assert.False(t, got.Matched())
				assert.Zero(t, got.Confidence)
				return
			}
			require.True(t, got.Matched())
			assert.Equal(t, tt.wantRow, got.Record.Row)
			assert.InDelta(t, tt.wantConf, got.Confidence, 1e-5)
		})
	}
}

func TestDetectHybrid_SemanticDisabled(t *testing.T) {
	idx, err := New(fixtureRecords(), nil, Options{})
	require.NoError(t, err)

	got := idx.DetectHybrid("welcome", vector(map[int]float32{0: 1}))
	assert.Equal(t, SourceNone, got.Source)

	got = idx.DetectHybrid("Genesis 1:2", nil)
	assert.Equal(t, SourceExplicit, got.Source)
}

func TestSemanticTopN(t *testing.T) {
	idx := newFixtureIndex(t)

	matches := idx.SemanticTopN(vector(map[int]float32{2: 0.6, 6: 0.7, 7: 0.3}), 3)
	require.Len(t, matches, 3)

	assert.Equal(t, "John 3:16", matches[0].Record.Reference())
	assert.Equal(t, "KJV", matches[0].Record.Translation, "rendered in active translation")
	assert.InDelta(t, 0.7, matches[0].Score, 1e-5)

	assert.Equal(t, "John 3:17", matches[1].Record.Reference(), "duplicate locator skipped")
	assert.Equal(t, "NIV", matches[1].Record.Translation)
	assert.InDelta(t, 0.3, matches[1].Score, 1e-5)

	assert.Equal(t, "Genesis 1:1", matches[2].Record.Reference())

	assert.Nil(t, idx.SemanticTopN(vector(nil), 0))
	assert.Nil(t, idx.SemanticTopN([]float32{1}, 5))
}

func TestKeywordSearch(t *testing.T) {
	idx := newFixtureIndex(t)

	refs := func(records []Record) []string {
		out := make([]string, len(records))
		for i, r := range records {
			out[i] = fmt.Sprintf("%s %s", r.Translation, r.Reference())
		}
		return out
	}

	assert.Equal(t,
		[]string{"KJV John 3:16", "KJV 1 John 4:8"},
		refs(idx.KeywordSearch("LOVE world", "KJV")))

	assert.Equal(t,
		[]string{"KJV John 3:16", "NIV John 3:16", "KJV 1 John 4:8", "NIV John 3:17"},
		refs(idx.KeywordSearch("love world", "all")),
		"ties keep corpus order")

	assert.Equal(t,
		refs(idx.KeywordSearch("love world", "all")),
		refs(idx.KeywordSearch("love world", "")))

	assert.Equal(t,
		[]string{"KJV Genesis 1:1", "KJV Genesis 1:2"},
		refs(idx.KeywordSearch("the earth", "KJV")),
		"stop-words do not score")

	assert.Empty(t, idx.KeywordSearch("the and unto a", "KJV"))
	assert.Empty(t, idx.KeywordSearch("love", "ESV"))
}

func TestKeywordSearch_Limit(t *testing.T) {
	var records []Record
	for v := 1; v <= 15; v++ {
		records = append(records, Record{Book: "Ephesians", Chapter: 2, Verse: v, Translation: "KJV", Text: "by grace"})
	}
	records[12].Text = "by grace through faith"

	idx, err := New(records, nil, Options{})
	require.NoError(t, err)

	results := idx.KeywordSearch("grace faith", "")
	require.Len(t, results, KeywordLimit)
	assert.Equal(t, 13, results[0].Verse)
	assert.Equal(t, 1, results[1].Verse)
}

func TestKeywordSearch_RepeatedTermsWeigh(t *testing.T) {
	idx, err := New([]Record{
		{Book: "Psalms", Chapter: 23, Verse: 1, Translation: "KJV", Text: "the lord is my shepherd"},
		{Book: "Psalms", Chapter: 23, Verse: 2, Translation: "KJV", Text: "still waters and green pastures"},
		{Book: "Psalms", Chapter: 23, Verse: 3, Translation: "KJV", Text: "he restoreth my soul by still waters"},
	}, nil, Options{})
	require.NoError(t, err)

	results := idx.KeywordSearch("shepherd shepherd waters", "KJV")
	require.Len(t, results, 3)
	assert.Equal(t, 1, results[0].Verse)
	assert.Equal(t, 2, results[1].Verse)
	assert.Equal(t, 3, results[2].Verse)
}

func TestKeywordTerms(t *testing.T) {
	assert.Equal(t, []string{"love", "neighbour", "love"}, KeywordTerms("Love thy NEIGHBOUR love a"))
	assert.Empty(t, KeywordTerms(""))
}

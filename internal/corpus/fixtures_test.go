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
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-lectern/internal/inference"
)

// Rows 0-3 are KJV, 4-7 NIV. NIV has John 3:17 which KJV lacks, KJV has
// 1 John 4:8 which NIV lacks.
func fixtureRecords() []Record {
	return []Record{
		{Book: "Genesis", Chapter: 1, Verse: 1, Translation: "KJV", Text: "In the beginning God created the heaven and the earth."},
		{Book: "Genesis", Chapter: 1, Verse: 2, Translation: "KJV", Text: "And the earth was without form, and void; and darkness was upon the face of the deep."},
		{Book: "John", Chapter: 3, Verse: 16, Translation: "KJV", Text: "For God so loved the world, that he gave his only begotten Son"},
		{Book: "1 John", Chapter: 4, Verse: 8, Translation: "KJV", Text: "He that loveth not knoweth not God; for God is love."},
		{Book: "Genesis", Chapter: 1, Verse: 1, Translation: "NIV", Text: "In the beginning God created the heavens and the earth."},
		{Book: "Genesis", Chapter: 1, Verse: 2, Translation: "NIV", Text: "Now the earth was formless and empty, darkness was over the surface of the deep"},
		{Book: "John", Chapter: 3, Verse: 16, Translation: "NIV", Text: "For God so loved the world that he gave his one and only Son"},
		{Book: "John", Chapter: 3, Verse: 17, Translation: "NIV", Text: "For God did not send his Son into the world to condemn the world"},
	}
}

// identityMatrix gives row i the unit vector along axis i.
func identityMatrix(rows int) []float32 {
	m := make([]float32, rows*inference.EmbeddingDim)
	for i := 0; i < rows; i++ {
		m[i*inference.EmbeddingDim+i] = 1
	}
	return m
}

// vector builds an embedding from axis weights.
func vector(weights map[int]float32) []float32 {
	v := make([]float32, inference.EmbeddingDim)
	for axis, w := range weights {
		v[axis] = w
	}
	return v
}

func newFixtureIndex(t *testing.T) *Index {
	t.Helper()
	records := fixtureRecords()
	idx, err := New(records, identityMatrix(len(records)), Options{ActiveTranslation: "KJV"})
	require.NoError(t, err)
	return idx
}

// writeNPY writes a version 1.0 .npy file.
func writeNPY(t *testing.T, path, descr string, shape []int, data []float32) {
	t.Helper()

	dims := make([]string, len(shape))
	for i, d := range shape {
		dims[i] = fmt.Sprint(d)
	}
	shapeText := strings.Join(dims, ", ")
	if len(shape) == 1 {
		shapeText += ","
	}

	header := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': (%s), }", descr, shapeText)
	pad := (64 - (10+len(header)+1)%64) % 64
	header += strings.Repeat(" ", pad) + "\n"

	var buf bytes.Buffer
	buf.WriteString("\x93NUMPY")
	buf.Write([]byte{1, 0})
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint16(len(header))))
	buf.WriteString(header)
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, data))

	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
}

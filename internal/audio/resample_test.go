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

package audio

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSincResampler_SameRateCopies(t *testing.T) {
	r, err := NewSincResampler(16000, 16000)
	require.NoError(t, err)

	in := []float32{0.1, 0.2, 0.3}
	out, err := r.Process(in)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	out[0] = 9
	assert.Equal(t, float32(0.1), in[0], "output must not alias input")
}

func TestNewSincResampler_DownsamplesToTarget(t *testing.T) {
	r, err := NewSincResampler(48000, TargetSampleRate)
	require.NoError(t, err)

	total := 0
	for block := 0; block < 48000/BlockSize; block++ {
		in := make([]float32, BlockSize)
		for i := range in {
			n := block*BlockSize + i
			in[i] = float32(0.5 * math.Sin(2*math.Pi*440*float64(n)/48000))
		}
		out, err := r.Process(in)
		require.NoError(t, err)
		for _, v := range out {
			require.False(t, math.IsNaN(float64(v)))
		}
		total += len(out)
	}

	// one second in, about one second out minus filter delay
	assert.InDelta(t, 15700, total, 800)
}

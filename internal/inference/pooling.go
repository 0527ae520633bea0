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

package inference

import "math"

// MeanPool averages a row-major [seqLen, dim] hidden state over the token
// axis.
func MeanPool(hidden []float32, seqLen, dim int) []float32 {
	out := make([]float32, dim)
	if seqLen == 0 || dim == 0 || len(hidden) < seqLen*dim {
		return out
	}

	for t := 0; t < seqLen; t++ {
		row := hidden[t*dim : (t+1)*dim]
		for i, v := range row {
			out[i] += v
		}
	}
	for i := range out {
		out[i] /= float32(seqLen)
	}
	return out
}

// Normalize scales v to unit L2 norm in place. A zero vector is left as is.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}

	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return v
}

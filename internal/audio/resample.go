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
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Resampler converts one channel of audio at a fixed ratio. Implementations
// keep filter state between calls and return a slice the caller owns.
type Resampler interface {
	Process(in []float32) ([]float32, error)
}

// ResamplerFactory builds one Resampler per input channel.
type ResamplerFactory func(inputRate, outputRate int) (Resampler, error)

// NewSincResampler returns a windowed-sinc resampler, or a copying
// passthrough when the rates already match.
func NewSincResampler(inputRate, outputRate int) (Resampler, error) {
	if inputRate == outputRate {
		return passthrough{}, nil
	}

	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(inputRate),
		OutputRate: float64(outputRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: resampler %d->%d Hz: %v", ErrStreamConfig, inputRate, outputRate, err)
	}

	return &sincResampler{r: r}, nil
}

type sincResampler struct {
	r  resampling.Resampler
	in []float64
}

func (s *sincResampler) Process(in []float32) ([]float32, error) {
	s.in = s.in[:0]
	for _, v := range in {
		s.in = append(s.in, float64(v))
	}

	out, err := s.r.Process(s.in)
	if err != nil {
		return nil, err
	}

	res := make([]float32, len(out))
	for i, v := range out {
		res[i] = float32(v)
	}
	return res, nil
}

type passthrough struct{}

func (passthrough) Process(in []float32) ([]float32, error) {
	out := make([]float32, len(in))
	copy(out, in)
	return out, nil
}

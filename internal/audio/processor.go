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
	"math"
	"sync/atomic"
)

const (
	// TargetSampleRate is the rate of every chunk delivered to the audio sink.
	TargetSampleRate = 16000
	// BlockSize is the per-channel input count that triggers a resample cycle.
	BlockSize = 1024
	// DefaultVADThreshold is the mean-square energy gate.
	DefaultVADThreshold float32 = 0.002
)

// Sinks are the consumer channels of a capture. The engine closes every
// non-nil channel on Stop and on nothing else.
type Sinks struct {
	Audio  chan<- []float32
	Errors chan<- error
	Levels chan<- float32
}

// blockProcessor runs on the audio thread. It owns its buffers and never
// blocks: every send is a try-send.
type blockProcessor struct {
	format     SampleFormat
	buffers    [][]float32
	resamplers []Resampler
	sinks      Sinks
	threshold  *atomic.Uint32
}

func newBlockProcessor(format StreamFormat, sinks Sinks, threshold *atomic.Uint32, factory ResamplerFactory) (*blockProcessor, error) {
	if err := checkFormat(format); err != nil {
		return nil, err
	}

	p := &blockProcessor{
		format:     format.SampleFormat,
		buffers:    make([][]float32, format.Channels),
		resamplers: make([]Resampler, format.Channels),
		sinks:      sinks,
		threshold:  threshold,
	}

	for ch := range p.buffers {
		p.buffers[ch] = make([]float32, 0, BlockSize*4)
		r, err := factory(format.SampleRate, TargetSampleRate)
		if err != nil {
			return nil, err
		}
		p.resamplers[ch] = r
	}

	return p, nil
}

func (p *blockProcessor) process(raw []byte, frames int) {
	deinterleave(p.format, raw, frames, p.buffers)

	if len(p.buffers[0]) < BlockSize {
		return
	}

	mono, err := p.resampleAndMix()
	p.clear()
	if err != nil {
		p.trySendError(fmt.Errorf("%w: resample failed: %v", ErrStreamRuntime, err))
		return
	}
	if len(mono) == 0 {
		return
	}

	energy := meanSquare(mono)

	if p.sinks.Levels != nil {
		select {
		case p.sinks.Levels <- energy:
		default:
		}
	}

	if energy > math.Float32frombits(p.threshold.Load()) {
		select {
		case p.sinks.Audio <- mono:
		default:
		}
	}
}

// resampleAndMix converts each channel separately, then averages the
// converted channels into one mono block.
func (p *blockProcessor) resampleAndMix() ([]float32, error) {
	var mono []float32
	for ch, buf := range p.buffers {
		out, err := p.resamplers[ch].Process(buf)
		if err != nil {
			return nil, err
		}
		if ch == 0 {
			mono = out
			continue
		}
		if len(out) < len(mono) {
			mono = mono[:len(out)]
		}
		for i := range mono {
			mono[i] += out[i]
		}
	}

	if n := float32(len(p.buffers)); n > 1 {
		for i := range mono {
			mono[i] /= n
		}
	}
	return mono, nil
}

func (p *blockProcessor) clear() {
	for ch := range p.buffers {
		p.buffers[ch] = p.buffers[ch][:0]
	}
}

func (p *blockProcessor) trySendError(err error) {
	if p.sinks.Errors == nil {
		return
	}
	select {
	case p.sinks.Errors <- err:
	default:
	}
}

// meanSquare is the energy measure used for both the level meter and the
// VAD gate.
func meanSquare(samples []float32) float32 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return float32(sum / float64(len(samples)))
}

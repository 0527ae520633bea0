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
	"encoding/binary"
	"fmt"
	"math"
)

// SampleFormat is the encoding of one interleaved sample.
type SampleFormat int

const (
	FormatUnknown SampleFormat = iota
	FormatU8
	FormatS16
	FormatS24
	FormatS32
	FormatF32
)

func (f SampleFormat) String() string {
	switch f {
	case FormatU8:
		return "u8"
	case FormatS16:
		return "s16"
	case FormatS24:
		return "s24"
	case FormatS32:
		return "s32"
	case FormatF32:
		return "f32"
	default:
		return "unknown"
	}
}

// BytesPerSample returns 0 for formats the engine cannot decode.
func (f SampleFormat) BytesPerSample() int {
	switch f {
	case FormatU8:
		return 1
	case FormatS16:
		return 2
	case FormatS24:
		return 3
	case FormatS32, FormatF32:
		return 4
	default:
		return 0
	}
}

func checkFormat(format StreamFormat) error {
	if format.SampleFormat.BytesPerSample() == 0 {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format.SampleFormat)
	}
	if format.Channels <= 0 || format.SampleRate <= 0 {
		return fmt.Errorf("%w: %d channels at %d Hz", ErrStreamConfig, format.Channels, format.SampleRate)
	}
	return nil
}

// deinterleave appends frames of little-endian interleaved samples to the
// per-channel buffers, converted to float32 in [-1, 1].
func deinterleave(format SampleFormat, raw []byte, frames int, buffers [][]float32) {
	channels := len(buffers)
	width := format.BytesPerSample()
	if need := frames * channels * width; len(raw) < need {
		frames = len(raw) / (channels * width)
	}

	offset := 0
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			buffers[ch] = append(buffers[ch], decodeSample(format, raw[offset:offset+width]))
			offset += width
		}
	}
}

func decodeSample(format SampleFormat, b []byte) float32 {
	switch format {
	case FormatU8:
		return (float32(b[0]) - 128) / 128
	case FormatS16:
		return float32(int16(binary.LittleEndian.Uint16(b))) / 32768
	case FormatS24:
		v := int32(uint32(b[0])<<8|uint32(b[1])<<16|uint32(b[2])<<24) >> 8
		return float32(v) / 8388608
	case FormatS32:
		return float32(float64(int32(binary.LittleEndian.Uint32(b))) / 2147483648)
	case FormatF32:
		return math.Float32frombits(binary.LittleEndian.Uint32(b))
	default:
		return 0
	}
}

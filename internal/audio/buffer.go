// Package audio handles audio capture and the bounded hand-off to detection.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Supported sample widths.
const (
	BytesPerInt16   = 2
	BytesPerFloat32 = 4
)

// Buffer is one captured block of interleaved PCM.
type Buffer struct {
	Samples        []byte
	Rate           int
	Channels       int
	BytesPerSample int
}

// NumSamples returns the number of frames (samples per channel).
func (b Buffer) NumSamples() int {
	if b.Channels <= 0 || b.BytesPerSample <= 0 {
		return 0
	}
	return len(b.Samples) / b.Channels / b.BytesPerSample
}

// Validate reports why b cannot be converted, or nil.
func (b Buffer) Validate() error {
	switch {
	case b.Rate <= 0:
		return fmt.Errorf("invalid sample rate %d", b.Rate)
	case b.Channels <= 0:
		return fmt.Errorf("invalid channel count %d", b.Channels)
	case b.BytesPerSample != BytesPerInt16 && b.BytesPerSample != BytesPerFloat32:
		return fmt.Errorf("unsupported sample width %d", b.BytesPerSample)
	case len(b.Samples)%(b.Channels*b.BytesPerSample) != 0:
		return errors.New("payload is not a whole number of frames")
	}
	return nil
}

// Mono converts b into normalized float32 samples, averaging channels.
func (b Buffer) Mono() ([]float32, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	frames := b.NumSamples()
	out := make([]float32, frames)
	stride := b.Channels * b.BytesPerSample
	for i := 0; i < frames; i++ {
		var sum float32
		for ch := 0; ch < b.Channels; ch++ {
			off := i*stride + ch*b.BytesPerSample
			sum += decodeSample(b.Samples[off:off+b.BytesPerSample], b.BytesPerSample)
		}
		out[i] = sum / float32(b.Channels)
	}
	return out, nil
}

func decodeSample(p []byte, width int) float32 {
	if width == BytesPerInt16 {
		return float32(int16(binary.LittleEndian.Uint16(p))) / 32768
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(p))
}

// FromFloat32 packs interleaved float32 samples into a Buffer.
func FromFloat32(samples []float32, rate, channels int) Buffer {
	return Buffer{
		Samples:        Float32ToBytes(samples),
		Rate:           rate,
		Channels:       channels,
		BytesPerSample: BytesPerFloat32,
	}
}

// Float32ToBytes converts float32 samples to little-endian bytes.
func Float32ToBytes(samples []float32) []byte {
	buf := make([]byte, len(samples)*BytesPerFloat32)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[i*BytesPerFloat32:], math.Float32bits(s))
	}
	return buf
}

// BytesToFloat32 converts little-endian bytes to float32 samples.
// Returns nil when len(data) is not a multiple of 4.
func BytesToFloat32(data []byte) []float32 {
	if len(data)%BytesPerFloat32 != 0 {
		return nil
	}
	out := make([]float32, len(data)/BytesPerFloat32)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*BytesPerFloat32:]))
	}
	return out
}

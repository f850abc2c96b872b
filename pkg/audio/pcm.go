package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

const (
	// pcmScale maps the float range [-1, 1] onto the symmetric int16 range.
	// Decoding divides by the same scale so a round trip is off by at most
	// half a step.
	pcmScale = 32767
)

// EncodePCM16 converts floating-point samples in [-1, 1] to 16-bit signed
// little-endian PCM. Values outside the range are clamped to the extreme
// representable integers rather than wrapped; NaN encodes as silence.
// Quantisation rounds to nearest, so the output is a pure function of the
// input.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*bytesPerSample)
	for i, v := range samples {
		binary.LittleEndian.PutUint16(out[i*bytesPerSample:], uint16(quantize(v)))
	}
	return out
}

// quantize converts one float sample to int16 with clamping.
func quantize(v float32) int16 {
	switch {
	case v != v: // NaN
		return 0
	case v > 1:
		return math.MaxInt16
	case v < -1:
		return math.MinInt16
	}
	return int16(math.Round(float64(v) * pcmScale))
}

// DecodePCM16 converts 16-bit signed little-endian PCM to float samples.
// It returns an error wrapping [ErrDecode] when data is empty or not
// sample-aligned.
func DecodePCM16(data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty chunk", ErrDecode)
	}
	if len(data)%bytesPerSample != 0 {
		return nil, fmt.Errorf("%w: odd byte count %d", ErrDecode, len(data))
	}
	out := make([]float32, len(data)/bytesPerSample)
	for i := range out {
		s := int16(binary.LittleEndian.Uint16(data[i*bytesPerSample:]))
		if s == math.MinInt16 {
			out[i] = -1
			continue
		}
		out[i] = float32(float64(s) / pcmScale)
	}
	return out, nil
}

// EncodeFrame encodes samples into a mono [AudioFrame] at sampleRate.
// The frame owns a freshly allocated buffer.
func EncodeFrame(samples []float32, sampleRate int, ts time.Duration) (AudioFrame, error) {
	if len(samples) == 0 {
		return AudioFrame{}, ErrEmptyFrame
	}
	return AudioFrame{
		Data:       EncodePCM16(samples),
		SampleRate: sampleRate,
		Channels:   1,
		Timestamp:  ts,
	}, nil
}

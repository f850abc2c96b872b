// Package audio defines the frame types, PCM codec, and device interfaces of
// the live audio pipeline.
//
// The pipeline is built from three capabilities provided by the host:
//
//   - [InputDevice]: acquires a microphone and delivers fixed-size sample
//     blocks to a callback.
//   - [OutputDevice]: exposes a device clock and plays decoded [Buffer]
//     values at scheduled start times.
//   - the PCM16 codec in this package ([EncodePCM16], [DecodePCM16]).
//
// Concrete devices live in sub-packages (audio/mic, audio/speaker); the
// capture pipeline and playback scheduler live in audio/capture and
// audio/playback. Devices are always owned by exactly one session and are
// released explicitly.
package audio

import (
	"context"
	"time"
)

// CaptureConfig selects the format and block size delivered by an
// [InputDevice].
type CaptureConfig struct {
	// SampleRate in Hz. Default: [CaptureSampleRate].
	SampleRate int

	// Channels is the number of capture channels. Default: 1.
	Channels int

	// BlockSize is the number of samples per delivered block. Default:
	// [DefaultBlockSize].
	BlockSize int
}

// WithDefaults returns a copy of c with zero fields replaced by defaults.
func (c CaptureConfig) WithDefaults() CaptureConfig {
	if c.SampleRate <= 0 {
		c.SampleRate = CaptureSampleRate
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	if c.BlockSize <= 0 {
		c.BlockSize = DefaultBlockSize
	}
	return c
}

// InputDevice is a source of microphone audio.
type InputDevice interface {
	// Open acquires the device and starts delivering blocks of exactly
	// cfg.BlockSize mono float samples to onBlock on the device's callback
	// goroutine. onBlock must not retain the slice after it returns.
	//
	// Open returns an error wrapping [ErrDeviceUnavailable] when the device
	// is missing or access is denied; in that case no block is delivered and
	// nothing is left running.
	Open(ctx context.Context, cfg CaptureConfig, onBlock func(samples []float32)) (InputStream, error)
}

// InputStream is an open capture stream returned by [InputDevice.Open].
type InputStream interface {
	// Stop disconnects the block callback, stops the device, and releases
	// it. After Stop returns the callback never fires again. Stop is
	// idempotent.
	Stop() error
}

// Buffer is decoded audio ready for playback on an [OutputDevice].
type Buffer struct {
	// Samples holds interleaved float samples in [-1, 1].
	Samples []float32

	// SampleRate in Hz.
	SampleRate int

	// Channels is the number of interleaved channels.
	Channels int
}

// Frames returns the number of sample frames (samples per channel).
func (b Buffer) Frames() int {
	ch := b.Channels
	if ch <= 0 {
		ch = 1
	}
	return len(b.Samples) / ch
}

// Duration returns the playback duration of the buffer.
func (b Buffer) Duration() time.Duration {
	return SamplesDuration(b.Frames(), b.SampleRate)
}

// OutputDevice plays decoded audio against its own clock.
//
// Implementations must be safe to call from a single goroutine that is not
// the device's internal playback goroutine.
type OutputDevice interface {
	// CurrentTime returns the device clock: the playback position since the
	// device was opened.
	CurrentTime() time.Duration

	// Decode converts raw PCM16 bytes at sampleRate/channels into a buffer in
	// the device's native format. Malformed input yields an error wrapping
	// [ErrDecode].
	Decode(data []byte, sampleRate, channels int) (Buffer, error)

	// Start schedules buf to begin playing at device time at.
	Start(buf Buffer, at time.Duration) error

	// Flush discards all scheduled audio that has not been played yet.
	Flush()

	// Close stops playback and releases the device. Idempotent.
	Close() error
}

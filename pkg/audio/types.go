package audio

import (
	"fmt"
	"time"
)

// Canonical sample rates of the live pipeline.
const (
	// CaptureSampleRate is the rate at which microphone audio is framed and
	// streamed to the remote model.
	CaptureSampleRate = 16000

	// PlaybackSampleRate is the rate of the audio chunks returned by the
	// remote model.
	PlaybackSampleRate = 24000

	// DefaultBlockSize is the number of samples per captured block.
	DefaultBlockSize = 4096

	// bytesPerSample is the width of one 16-bit PCM sample.
	bytesPerSample = 2
)

// AudioFrame represents a single frame of audio data flowing through the pipeline.
// Frames are the atomic unit of audio transport: they are produced by the
// capture pipeline once per block and discarded after they are handed to the
// streaming session.
type AudioFrame struct {
	// Data holds 16-bit signed little-endian PCM samples, interleaved when
	// Channels > 1. Its length is always 2 × samples × channels and never zero.
	Data []byte

	// SampleRate in Hz (16000 for capture, 24000 for model audio).
	SampleRate int

	// Channels is the number of interleaved channels. The live pipeline is mono.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Samples returns the number of samples per channel carried by the frame.
func (f AudioFrame) Samples() int {
	ch := f.Channels
	if ch <= 0 {
		ch = 1
	}
	return len(f.Data) / (bytesPerSample * ch)
}

// Duration returns the playback duration of the frame.
func (f AudioFrame) Duration() time.Duration {
	return Format{SampleRate: f.SampleRate, Channels: f.Channels}.Duration(len(f.Data))
}

// Validate reports whether the frame satisfies the PCM16 framing invariant.
func (f AudioFrame) Validate() error {
	if len(f.Data) == 0 {
		return ErrEmptyFrame
	}
	ch := f.Channels
	if ch <= 0 {
		ch = 1
	}
	if len(f.Data)%(bytesPerSample*ch) != 0 {
		return fmt.Errorf("audio: frame of %d bytes is not aligned to %d-channel PCM16", len(f.Data), ch)
	}
	if f.SampleRate <= 0 {
		return fmt.Errorf("audio: frame sample rate %d is invalid", f.SampleRate)
	}
	return nil
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Samples returns the number of samples per channel in n bytes of PCM16.
func (f Format) Samples(n int) int {
	ch := f.Channels
	if ch <= 0 {
		ch = 1
	}
	return n / (bytesPerSample * ch)
}

// Duration returns the playback duration of n bytes of PCM16 in this format.
func (f Format) Duration(n int) time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return SamplesDuration(f.Samples(n), f.SampleRate)
}

// String returns a human-readable form such as "16000Hz mono".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// SamplesDuration converts a per-channel sample count at rate into a duration.
// The computation is exact for every rate that divides one second evenly.
func SamplesDuration(samples, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(int64(samples) * int64(time.Second) / int64(rate))
}

// DurationSamples converts d into a per-channel sample count at rate,
// rounding to the nearest sample.
func DurationSamples(d time.Duration, rate int) int64 {
	if rate <= 0 {
		return 0
	}
	return (int64(d)*int64(rate) + int64(time.Second)/2) / int64(time.Second)
}

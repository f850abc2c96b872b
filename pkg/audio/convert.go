package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// Decoder turns inbound PCM16 chunks into [Buffer] values in a target
// format. It logs a warning on the first format mismatch and keeps one
// streaming resampler per source rate so that consecutive chunks of the same
// stream are resampled without seams.
// Create one per output stream; not designed for shared use across goroutines.
type Decoder struct {
	Target Format

	rs             *Resampler
	warnedMismatch sync.Once
}

// Decode converts data (PCM16 at sampleRate with the given channel count) to
// the decoder's target format. Conversion order: downmix to mono, resample,
// then upmix to the target channel count. The resampler may hold back
// samples for its filter, so a short chunk can yield an empty buffer.
func (d *Decoder) Decode(data []byte, sampleRate, channels int) (Buffer, error) {
	if channels <= 0 {
		channels = 1
	}
	if sampleRate <= 0 {
		return Buffer{}, fmt.Errorf("%w: sample rate %d", ErrDecode, sampleRate)
	}
	samples, err := DecodePCM16(data)
	if err != nil {
		return Buffer{}, err
	}
	if len(samples)%channels != 0 {
		return Buffer{}, fmt.Errorf("%w: %d samples do not split into %d channels", ErrDecode, len(samples), channels)
	}

	target := d.Target
	if target.SampleRate <= 0 {
		target.SampleRate = sampleRate
	}
	if target.Channels <= 0 {
		target.Channels = 1
	}

	if sampleRate != target.SampleRate || channels != target.Channels {
		d.warnedMismatch.Do(func() {
			slog.Warn("audio decoder: format mismatch, converting",
				"from", Format{SampleRate: sampleRate, Channels: channels}.String(),
				"to", target.String(),
			)
		})
	}

	if channels != 1 {
		samples = DownmixToMono(samples, channels)
	}
	if sampleRate != target.SampleRate {
		if d.rs == nil || d.rs.SrcRate() != sampleRate || d.rs.DstRate() != target.SampleRate {
			d.rs, err = NewResampler(sampleRate, target.SampleRate)
			if err != nil {
				return Buffer{}, fmt.Errorf("%w: %v", ErrDecode, err)
			}
		}
		samples, err = d.rs.Process(samples)
		if err != nil {
			return Buffer{}, fmt.Errorf("%w: %v", ErrDecode, err)
		}
	}
	if target.Channels != 1 {
		samples = UpmixMono(samples, target.Channels)
	}

	return Buffer{Samples: samples, SampleRate: target.SampleRate, Channels: target.Channels}, nil
}

// UpmixMono duplicates each mono sample into channels interleaved copies.
func UpmixMono(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	out := make([]float32, len(samples)*channels)
	for i, v := range samples {
		for c := range channels {
			out[i*channels+c] = v
		}
	}
	return out
}

// DownmixToMono averages interleaved frames of channels samples into mono.
// A trailing partial frame is dropped. The result is clamped to [-1, 1].
func DownmixToMono(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for c := range channels {
			sum += samples[i*channels+c]
		}
		avg := sum / float32(channels)

		if avg > 1 {
			avg = 1
		} else if avg < -1 {
			avg = -1
		}
		out[i] = avg
	}
	return out
}

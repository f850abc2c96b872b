package audio

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Resampler converts a continuous mono float stream between sample rates.
// It keeps filter state across calls, so consecutive chunks of one stream
// are joined without discontinuities. Not safe for concurrent use.
type Resampler struct {
	src, dst int
	rs       resampling.Resampler
	in       []float64
}

// NewResampler creates a mono resampler from srcRate to dstRate.
func NewResampler(srcRate, dstRate int) (*Resampler, error) {
	if srcRate <= 0 || dstRate <= 0 {
		return nil, fmt.Errorf("audio: invalid resample rates %d -> %d", srcRate, dstRate)
	}
	r := &Resampler{src: srcRate, dst: dstRate}
	if srcRate == dstRate {
		return r, nil
	}
	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(srcRate),
		OutputRate: float64(dstRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("audio: create resampler: %w", err)
	}
	r.rs = rs
	return r, nil
}

// SrcRate returns the input sample rate.
func (r *Resampler) SrcRate() int { return r.src }

// DstRate returns the output sample rate.
func (r *Resampler) DstRate() int { return r.dst }

// Process resamples the next chunk of the stream. When the rates match the
// input is returned unchanged.
func (r *Resampler) Process(samples []float32) ([]float32, error) {
	if r.rs == nil || len(samples) == 0 {
		return samples, nil
	}
	if cap(r.in) < len(samples) {
		r.in = make([]float64, len(samples))
	}
	in := r.in[:len(samples)]
	for i, v := range samples {
		in[i] = float64(v)
	}
	out, err := r.rs.Process(in)
	if err != nil {
		return nil, fmt.Errorf("audio: resample: %w", err)
	}
	res := make([]float32, len(out))
	for i, v := range out {
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		res[i] = float32(v)
	}
	return res, nil
}

// Resample converts one self-contained block of mono samples from srcRate to
// dstRate. Use a [Resampler] for streams.
func Resample(samples []float32, srcRate, dstRate int) ([]float32, error) {
	r, err := NewResampler(srcRate, dstRate)
	if err != nil {
		return nil, err
	}
	return r.Process(samples)
}

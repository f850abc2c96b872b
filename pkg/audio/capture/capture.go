// Package capture turns microphone blocks into PCM16 frames and streams them
// to a sink.
//
// A [Pipeline] opens an [audio.InputDevice], encodes every delivered block with
// [audio.EncodeFrame], and hands the frame to a [Sender] (normally a live
// session). Stop disconnects the block callback before releasing the device:
// once Stop returns, the sink never sees another frame.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/livewire/pkg/audio"
)

var (
	// ErrAlreadyStarted is returned by [Pipeline.Start] on a running pipeline.
	ErrAlreadyStarted = errors.New("capture: already started")

	// ErrStoppedDuringStart is returned by [Pipeline.Start] when Stop ran
	// while the device was being opened. The device is released again.
	ErrStoppedDuringStart = errors.New("capture: stopped during start")
)

// Sender receives encoded frames. Send must not block.
type Sender interface {
	Send(frame audio.AudioFrame) error
}

// SenderFunc adapts a function to [Sender].
type SenderFunc func(audio.AudioFrame) error

// Send implements [Sender].
func (f SenderFunc) Send(frame audio.AudioFrame) error { return f(frame) }

// Stats is a snapshot of pipeline counters.
type Stats struct {
	FramesSent     int64
	FramesRejected int64
}

// Option is a functional option for [New].
type Option func(*Pipeline)

// WithConfig sets the capture format. Zero fields use [audio.CaptureConfig]
// defaults.
func WithConfig(cfg audio.CaptureConfig) Option {
	return func(p *Pipeline) { p.cfg = cfg }
}

// WithLogger sets the pipeline logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// WithFrameHook registers fn to be called after every Send with the frame and
// the sink's result. It runs on the device callback goroutine.
func WithFrameHook(fn func(audio.AudioFrame, error)) Option {
	return func(p *Pipeline) { p.hook = fn }
}

// Pipeline is the microphone capture pipeline. Safe for concurrent use.
type Pipeline struct {
	dev  audio.InputDevice
	sink Sender
	cfg  audio.CaptureConfig
	log  *slog.Logger
	hook func(audio.AudioFrame, error)

	// mu guards active and stream, and is held for the whole of each block
	// so that Stop waits for an in-flight Send.
	mu      sync.Mutex
	active  bool
	stream  audio.InputStream
	samples int64 // captured samples since Start, for frame timestamps

	sent     atomic.Int64
	rejected atomic.Int64
}

// New creates a pipeline that reads from dev and writes to sink.
func New(dev audio.InputDevice, sink Sender, opts ...Option) *Pipeline {
	p := &Pipeline{
		dev:  dev,
		sink: sink,
		log:  slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	p.cfg = p.cfg.WithDefaults()
	return p
}

// Start acquires the input device and begins streaming. An acquisition
// failure is returned (wrapping [audio.ErrDeviceUnavailable]) before any
// frame is sent, and the pipeline stays stopped.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.active || p.stream != nil {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	p.active = true
	p.samples = 0
	p.mu.Unlock()

	stream, err := p.dev.Open(ctx, p.cfg, p.onBlock)
	if err != nil {
		p.mu.Lock()
		p.active = false
		p.mu.Unlock()
		if !errors.Is(err, audio.ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %v", audio.ErrDeviceUnavailable, err)
		}
		return fmt.Errorf("capture: open input: %w", err)
	}

	p.mu.Lock()
	if !p.active {
		p.mu.Unlock()
		if err := stream.Stop(); err != nil {
			return fmt.Errorf("%w: release input: %w", ErrStoppedDuringStart, err)
		}
		return ErrStoppedDuringStart
	}
	p.stream = stream
	p.mu.Unlock()

	p.log.Info("capture: started",
		"sample_rate", p.cfg.SampleRate,
		"block_size", p.cfg.BlockSize,
	)
	return nil
}

// onBlock runs on the device callback goroutine.
func (p *Pipeline) onBlock(samples []float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active {
		return
	}

	ts := audio.SamplesDuration(int(p.samples), p.cfg.SampleRate)
	p.samples += int64(len(samples))

	frame, err := audio.EncodeFrame(samples, p.cfg.SampleRate, ts)
	if err != nil {
		return
	}
	err = p.sink.Send(frame)
	if err != nil {
		p.rejected.Add(1)
		p.log.Debug("capture: frame rejected", "err", err, "ts", ts)
	} else {
		p.sent.Add(1)
	}
	if p.hook != nil {
		p.hook(frame, err)
	}
}

// Stop disconnects the block callback, then stops and releases the device.
// After Stop returns no further frame reaches the sink. Idempotent.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	p.active = false
	stream := p.stream
	p.stream = nil
	p.mu.Unlock()

	if stream == nil {
		return nil
	}
	start := time.Now()
	err := stream.Stop()
	p.log.Info("capture: stopped",
		"frames_sent", p.sent.Load(),
		"frames_rejected", p.rejected.Load(),
		"stop_took", time.Since(start),
	)
	if err != nil {
		return fmt.Errorf("capture: stop input: %w", err)
	}
	return nil
}

// Running reports whether the pipeline is streaming.
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		FramesSent:     p.sent.Load(),
		FramesRejected: p.rejected.Load(),
	}
}

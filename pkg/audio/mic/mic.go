// Package mic implements [audio.InputDevice] on top of miniaudio via
// github.com/gen2brain/malgo.
//
// The device captures mono float32 samples at the requested rate. Whatever
// period size the host backend negotiates, blocks are re-framed by an
// [audio.Blocker] so the callback always sees exactly BlockSize samples.
package mic

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/livewire/pkg/audio"
)

var _ audio.InputDevice = (*Device)(nil)

// Option is a functional option for [New].
type Option func(*Device)

// WithDeviceID selects a specific capture device. The default is the host's
// default input.
func WithDeviceID(id malgo.DeviceID) Option {
	return func(d *Device) { d.deviceID = &id }
}

// WithLogger sets the logger used for backend diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(d *Device) { d.log = l }
}

// Device is a microphone input. Each Open call initialises its own malgo
// context so that streams can be opened and released independently.
type Device struct {
	deviceID *malgo.DeviceID
	log      *slog.Logger
}

// New returns a microphone [audio.InputDevice].
func New(opts ...Option) *Device {
	d := &Device{log: slog.Default()}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Open implements [audio.InputDevice].
func (d *Device) Open(_ context.Context, cfg audio.CaptureConfig, onBlock func([]float32)) (audio.InputStream, error) {
	cfg = cfg.WithDefaults()

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		d.log.Debug("malgo", "msg", msg)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: init audio context: %v", audio.ErrDeviceUnavailable, err)
	}

	s := &stream{
		mctx:     mctx,
		channels: cfg.Channels,
		blocker:  audio.NewBlocker(cfg.BlockSize, onBlock),
	}

	devCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	devCfg.Capture.Format = malgo.FormatF32
	devCfg.Capture.Channels = uint32(cfg.Channels)
	devCfg.SampleRate = uint32(cfg.SampleRate)
	devCfg.PeriodSizeInFrames = uint32(cfg.BlockSize)
	if d.deviceID != nil {
		devCfg.Capture.DeviceID = d.deviceID.Pointer()
	}

	dev, err := malgo.InitDevice(mctx.Context, devCfg, malgo.DeviceCallbacks{Data: s.onData})
	if err != nil {
		s.releaseContext()
		return nil, fmt.Errorf("%w: init capture device: %v", audio.ErrDeviceUnavailable, err)
	}
	s.dev = dev

	if err := dev.Start(); err != nil {
		dev.Uninit()
		s.releaseContext()
		return nil, fmt.Errorf("%w: start capture device: %v", audio.ErrDeviceUnavailable, err)
	}

	d.log.Debug("mic: capture started",
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
		"block_size", cfg.BlockSize,
	)
	return s, nil
}

// stream is an open capture stream.
type stream struct {
	mctx     *malgo.AllocatedContext
	dev      *malgo.Device
	channels int
	blocker  *audio.Blocker

	// scratch is only touched from the backend's data callback.
	scratch []float32

	stopOnce sync.Once
}

// onData runs on the backend's audio thread.
func (s *stream) onData(_, in []byte, frames uint32) {
	n := int(frames) * s.channels
	if len(in) < n*4 {
		n = len(in) / 4
	}
	if cap(s.scratch) < n {
		s.scratch = make([]float32, n)
	}
	buf := s.scratch[:n]
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(in[i*4:]))
	}
	if s.channels > 1 {
		buf = audio.DownmixToMono(buf, s.channels)
	}
	s.blocker.Write(buf)
}

// Stop implements [audio.InputStream]. The blocker is disabled first so that
// no block reaches the consumer once Stop has begun.
func (s *stream) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.blocker.Disable()
		if s.dev != nil {
			if e := s.dev.Stop(); e != nil {
				err = fmt.Errorf("mic: stop device: %w", e)
			}
			s.dev.Uninit()
		}
		s.releaseContext()
	})
	return err
}

func (s *stream) releaseContext() {
	if s.mctx == nil {
		return
	}
	_ = s.mctx.Uninit()
	s.mctx.Free()
	s.mctx = nil
}

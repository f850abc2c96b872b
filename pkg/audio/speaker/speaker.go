// Package speaker implements [audio.OutputDevice] on github.com/ebitengine/oto/v3.
//
// A single oto player pulls PCM16 from a [Timeline]. Scheduling a buffer
// places it on the timeline at a sample-accurate offset, so back-to-back
// buffers play gaplessly and the device clock is the timeline's read position.
package speaker

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/MrWong99/livewire/pkg/audio"
)

var _ audio.OutputDevice = (*Device)(nil)

// Config selects the output format of a [Device].
type Config struct {
	// SampleRate in Hz. Default: [audio.PlaybackSampleRate].
	SampleRate int

	// Channels is the output channel count. Default: 1.
	Channels int

	// BufferSize is the device-side buffer duration. Default: 100ms.
	BufferSize time.Duration
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = audio.PlaybackSampleRate
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 100 * time.Millisecond
	}
	return c
}

// oto allows exactly one context per process and fixes its format at
// creation. The context is created on first Open and shared by every Device;
// the per-session resources are the player and timeline each Device owns.
var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoCfg  Config
	otoErr  error
)

func sharedContext(cfg Config) (*oto.Context, error) {
	otoOnce.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   cfg.SampleRate,
			ChannelCount: cfg.Channels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   cfg.BufferSize,
		})
		if err != nil {
			otoErr = err
			return
		}
		<-ready
		otoCtx, otoCfg = ctx, cfg
	})
	if otoErr != nil {
		return nil, otoErr
	}
	if err := sameFormat(otoCfg, cfg); err != nil {
		return nil, err
	}
	return otoCtx, nil
}

// sameFormat reports whether a Device asking for want can share a context
// created with have. A later Open cannot change the format.
func sameFormat(have, want Config) error {
	if have.SampleRate != want.SampleRate || have.Channels != want.Channels {
		return fmt.Errorf("speaker: output already opened as %s, cannot open as %s",
			audio.Format{SampleRate: have.SampleRate, Channels: have.Channels},
			audio.Format{SampleRate: want.SampleRate, Channels: want.Channels})
	}
	return nil
}

// Device is a speaker output. Create one per session with [Open].
type Device struct {
	cfg      Config
	timeline *Timeline
	player   *oto.Player
	decoder  audio.Decoder

	closeOnce sync.Once
}

// Open acquires the speaker and starts a player that outputs silence until
// audio is scheduled. Failures wrap [audio.ErrDeviceUnavailable].
func Open(cfg Config) (*Device, error) {
	cfg = cfg.withDefaults()
	ctx, err := sharedContext(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", audio.ErrDeviceUnavailable, err)
	}

	tl := NewTimeline(cfg.SampleRate, cfg.Channels)
	player := ctx.NewPlayer(tl)
	player.Play()

	slog.Debug("speaker: output opened", "format", audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels}.String())
	return &Device{
		cfg:      cfg,
		timeline: tl,
		player:   player,
		decoder:  audio.Decoder{Target: audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels}},
	}, nil
}

// CurrentTime implements [audio.OutputDevice]. It is the timeline read
// position, which leads the audible output by the player's buffer.
func (d *Device) CurrentTime() time.Duration {
	return d.timeline.Now()
}

// Decode implements [audio.OutputDevice]. Input is converted to the device's
// rate and channel count.
func (d *Device) Decode(data []byte, sampleRate, channels int) (audio.Buffer, error) {
	return d.decoder.Decode(data, sampleRate, channels)
}

// Start implements [audio.OutputDevice].
func (d *Device) Start(buf audio.Buffer, at time.Duration) error {
	if buf.SampleRate != d.cfg.SampleRate || buf.Channels != d.cfg.Channels {
		return fmt.Errorf("speaker: buffer format %s does not match device %s",
			audio.Format{SampleRate: buf.SampleRate, Channels: buf.Channels},
			audio.Format{SampleRate: d.cfg.SampleRate, Channels: d.cfg.Channels})
	}
	return d.timeline.Schedule(buf.Samples, at)
}

// Flush implements [audio.OutputDevice].
func (d *Device) Flush() {
	d.timeline.Flush()
}

// Close implements [audio.OutputDevice].
func (d *Device) Close() error {
	var err error
	d.closeOnce.Do(func() {
		d.timeline.Close()
		d.player.Pause()
		err = d.player.Close()
	})
	if err != nil {
		return fmt.Errorf("speaker: close player: %w", err)
	}
	return nil
}

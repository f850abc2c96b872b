// Package playback schedules inbound model audio for gapless output.
//
// The [Scheduler] keeps a cursor on the output device clock marking when the
// last scheduled chunk ends. Each new chunk starts at max(cursor, now): it
// follows the previous chunk seamlessly when audio arrives ahead of real time,
// and starts immediately after a stall. Chunks therefore never overlap and
// play in arrival order.
package playback

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/livewire/pkg/audio"
)

// Stats is a snapshot of scheduler counters.
type Stats struct {
	Scheduled    int64
	DecodeErrors int64
	Gaps         int64

	// Scheduled audio in total.
	Duration time.Duration
}

// Option is a functional option for [New].
type Option func(*Scheduler)

// WithLogger sets the scheduler logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// WithGapHook registers fn to be called when a chunk arrives after the
// previous one finished playing. gap is how long the output was silent.
func WithGapHook(fn func(gap time.Duration)) Option {
	return func(s *Scheduler) { s.onGap = fn }
}

// WithChannels sets the channel count of inbound chunks. Default: 1.
func WithChannels(n int) Option {
	return func(s *Scheduler) { s.channels = n }
}

// Scheduler places decoded chunks on an [audio.OutputDevice] timeline.
// Not safe for concurrent use; drive it from a single goroutine.
type Scheduler struct {
	out      audio.OutputDevice
	log      *slog.Logger
	onGap    func(time.Duration)
	channels int

	cursor time.Duration
	primed bool // at least one chunk scheduled since creation or Reset
	stats  Stats
}

// New creates a scheduler on out with the cursor at the device's current time.
func New(out audio.OutputDevice, opts ...Option) *Scheduler {
	s := &Scheduler{
		out:      out,
		log:      slog.Default(),
		channels: 1,
	}
	for _, o := range opts {
		o(s)
	}
	s.cursor = out.CurrentTime()
	return s
}

// Schedule decodes chunk (PCM16 at sampleRate) and starts it at
// max(cursor, now). It returns the start time. On a decode or start failure
// the chunk is skipped, the cursor is left unchanged, and the error is
// returned (decode failures wrap [audio.ErrDecode]).
func (s *Scheduler) Schedule(chunk []byte, sampleRate int) (time.Duration, error) {
	buf, err := s.out.Decode(chunk, sampleRate, s.channels)
	if err != nil {
		s.stats.DecodeErrors++
		s.log.Warn("playback: skipping undecodable chunk", "bytes", len(chunk), "err", err)
		return s.cursor, fmt.Errorf("playback: decode chunk: %w", err)
	}

	now := s.out.CurrentTime()
	start := max(s.cursor, now)
	d := buf.Duration()
	if d == 0 {
		return start, nil
	}

	if s.primed && now > s.cursor {
		gap := now - s.cursor
		s.stats.Gaps++
		s.log.Debug("playback: output underrun", "gap", gap)
		if s.onGap != nil {
			s.onGap(gap)
		}
	}

	if err := s.out.Start(buf, start); err != nil {
		s.log.Warn("playback: start failed", "err", err)
		return s.cursor, fmt.Errorf("playback: start chunk: %w", err)
	}
	s.cursor = start + d
	s.primed = true
	s.stats.Scheduled++
	s.stats.Duration += d
	return start, nil
}

// Reset drops all scheduled audio and moves the cursor to the device clock.
// Used when the remote side reports that the user interrupted the model.
func (s *Scheduler) Reset() {
	s.out.Flush()
	s.cursor = s.out.CurrentTime()
	s.primed = false
}

// Cursor returns the device time at which the last scheduled chunk ends.
func (s *Scheduler) Cursor() time.Duration { return s.cursor }

// Pending returns how much scheduled audio has not been played yet.
func (s *Scheduler) Pending() time.Duration {
	return max(0, s.cursor-s.out.CurrentTime())
}

// Stats returns a snapshot of the scheduler counters.
func (s *Scheduler) Stats() Stats { return s.stats }

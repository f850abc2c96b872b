package speaker

import (
	"sync"
	"time"

	"github.com/MrWong99/livewire/pkg/audio"
)

// segment is encoded PCM16 placed at an absolute frame offset on the timeline.
type segment struct {
	start int64 // first frame
	data  []byte
	pos   int // next byte within data
}

// Timeline renders scheduled buffers into a PCM16 byte stream. It is the
// io.Reader pulled by the output player: every Read advances the clock by the
// number of frames produced, emitting silence where nothing is scheduled.
//
// Segments are kept in schedule order. A segment whose start is already in
// the past when it is reached plays immediately from its first sample.
type Timeline struct {
	rate     int
	channels int

	mu       sync.Mutex
	frame    int64 // read position in frames
	segments []*segment
	closed   bool
}

// NewTimeline returns a Timeline producing interleaved PCM16 at rate and
// channels.
func NewTimeline(rate, channels int) *Timeline {
	if channels <= 0 {
		channels = 1
	}
	return &Timeline{rate: rate, channels: channels}
}

// Now returns the current read position as a duration.
func (t *Timeline) Now() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return audio.SamplesDuration(int(t.frame), t.rate)
}

// Schedule places samples (interleaved at the timeline's format) at at.
func (t *Timeline) Schedule(samples []float32, at time.Duration) error {
	samples = samples[:len(samples)-len(samples)%t.channels]
	if len(samples) == 0 {
		return nil
	}
	data := audio.EncodePCM16(samples)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return audio.ErrDeviceClosed
	}
	t.segments = append(t.segments, &segment{
		start: audio.DurationSamples(at, t.rate),
		data:  data,
	})
	return nil
}

// Flush drops every scheduled segment, including one that is partially played.
func (t *Timeline) Flush() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.segments = nil
}

// Pending returns the number of segments not yet fully played.
func (t *Timeline) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.segments)
}

// Close marks the timeline closed. Reads continue to return silence so that
// the player drains cleanly.
func (t *Timeline) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.segments = nil
}

// Read implements io.Reader. It always fills whole frames of p and never
// returns an error.
func (t *Timeline) Read(p []byte) (int, error) {
	frameBytes := 2 * t.channels
	frames := len(p) / frameBytes
	if frames == 0 {
		return 0, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	p = p[:frames*frameBytes]
	for len(p) > 0 {
		seg := t.current(t.frame)
		if seg == nil {
			// Silence until the next segment starts, or to the end of p.
			n := len(p) / frameBytes
			if len(t.segments) > 0 {
				n = int(min(int64(n), t.segments[0].start-t.frame))
			}
			clear(p[:n*frameBytes])
			p = p[n*frameBytes:]
			t.frame += int64(n)
			continue
		}
		n := copy(p, seg.data[seg.pos:])
		seg.pos += n
		p = p[n:]
		t.frame += int64(n / frameBytes)
		if seg.pos >= len(seg.data) {
			t.segments = t.segments[1:]
		}
	}
	return frames * frameBytes, nil
}

// current returns the segment that should sound at frame now, or nil for
// silence. Must be called with t.mu held.
func (t *Timeline) current(now int64) *segment {
	if len(t.segments) == 0 {
		return nil
	}
	seg := t.segments[0]
	if seg.pos == 0 && seg.start > now {
		return nil
	}
	if seg.pos == 0 && seg.start < now {
		// Late: shift so the segment plays in full from now.
		seg.start = now
	}
	return seg
}

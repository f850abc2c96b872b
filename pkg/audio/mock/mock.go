// Package mock provides in-memory implementations of [audio.InputDevice] and
// [audio.OutputDevice] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	in := &mock.InputDevice{}
//	out := mock.NewOutputDevice()
//	// ... start the pipeline under test ...
//	in.Push(make([]float32, audio.DefaultBlockSize))
//	out.Advance(500 * time.Millisecond)
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/livewire/pkg/audio"
)

var (
	_ audio.InputDevice  = (*InputDevice)(nil)
	_ audio.InputStream  = (*InputStream)(nil)
	_ audio.OutputDevice = (*OutputDevice)(nil)
)

// ─── InputDevice ──────────────────────────────────────────────────────────────

// InputDevice is a push-driven mock of [audio.InputDevice]. Tests feed blocks
// with [InputDevice.Push]; each push is delivered synchronously to the
// callback registered by the most recent Open, unless the stream was stopped.
type InputDevice struct {
	mu sync.Mutex

	// OpenError is returned by Open when non-nil. No stream is created.
	OpenError error

	// StopError is returned by [InputStream.Stop].
	StopError error

	// OpenCalls records the config passed to each Open invocation.
	OpenCalls []audio.CaptureConfig

	stream *InputStream
}

// Open implements [audio.InputDevice].
func (d *InputDevice) Open(_ context.Context, cfg audio.CaptureConfig, onBlock func([]float32)) (audio.InputStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenCalls = append(d.OpenCalls, cfg)
	if d.OpenError != nil {
		return nil, d.OpenError
	}
	s := &InputStream{onBlock: onBlock, stopErr: d.StopError}
	d.stream = s
	return s, nil
}

// Push delivers samples to the current stream's callback on the calling
// goroutine. It reports whether the callback was invoked.
func (d *InputDevice) Push(samples []float32) bool {
	d.mu.Lock()
	s := d.stream
	d.mu.Unlock()
	if s == nil {
		return false
	}
	return s.push(samples)
}

// Stream returns the stream created by the last successful Open, or nil.
func (d *InputDevice) Stream() *InputStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stream
}

// InputStream is the [audio.InputStream] returned by [InputDevice.Open].
type InputStream struct {
	mu        sync.Mutex
	onBlock   func([]float32)
	stopped   bool
	stopErr   error
	stopCalls int
}

func (s *InputStream) push(samples []float32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.onBlock(samples)
	return true
}

// Stop implements [audio.InputStream]. It waits for an in-flight Push.
func (s *InputStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopCalls++
	s.stopped = true
	return s.stopErr
}

// Stopped reports whether Stop has been called.
func (s *InputStream) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// StopCalls returns the number of Stop invocations.
func (s *InputStream) StopCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopCalls
}

// ─── OutputDevice ─────────────────────────────────────────────────────────────

// StartCall records the arguments of a single [OutputDevice.Start] invocation.
type StartCall struct {
	// Buffer is the decoded buffer passed to Start.
	Buffer audio.Buffer
	// At is the device time the buffer was scheduled at.
	At time.Duration
}

// OutputDevice is a mock [audio.OutputDevice] with a manually advanced clock.
// Decode interprets data as mono PCM16 without resampling unless DecodeFunc
// is set.
type OutputDevice struct {
	mu  sync.Mutex
	now time.Duration

	// DecodeFunc, when non-nil, replaces the default decoder.
	DecodeFunc func(data []byte, sampleRate, channels int) (audio.Buffer, error)

	// StartError is returned by Start when non-nil. The call is still recorded.
	StartError error

	// CloseError is returned by Close.
	CloseError error

	// StartCalls records all Start invocations.
	StartCalls []StartCall

	// CallCountFlush records how many times Flush was called.
	CallCountFlush int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	closed bool
}

// NewOutputDevice returns an OutputDevice whose clock reads zero.
func NewOutputDevice() *OutputDevice { return &OutputDevice{} }

// Advance moves the device clock forward by d.
func (o *OutputDevice) Advance(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now += d
}

// SetTime sets the device clock to t.
func (o *OutputDevice) SetTime(t time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now = t
}

// CurrentTime implements [audio.OutputDevice].
func (o *OutputDevice) CurrentTime() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

// Decode implements [audio.OutputDevice].
func (o *OutputDevice) Decode(data []byte, sampleRate, channels int) (audio.Buffer, error) {
	o.mu.Lock()
	fn := o.DecodeFunc
	o.mu.Unlock()
	if fn != nil {
		return fn(data, sampleRate, channels)
	}
	samples, err := audio.DecodePCM16(data)
	if err != nil {
		return audio.Buffer{}, err
	}
	if sampleRate <= 0 {
		return audio.Buffer{}, fmt.Errorf("%w: sample rate %d", audio.ErrDecode, sampleRate)
	}
	if channels <= 0 {
		channels = 1
	}
	return audio.Buffer{Samples: samples, SampleRate: sampleRate, Channels: channels}, nil
}

// Start implements [audio.OutputDevice]. Records the call.
func (o *OutputDevice) Start(buf audio.Buffer, at time.Duration) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return audio.ErrDeviceClosed
	}
	o.StartCalls = append(o.StartCalls, StartCall{Buffer: buf, At: at})
	return o.StartError
}

// Flush implements [audio.OutputDevice].
func (o *OutputDevice) Flush() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.CallCountFlush++
}

// Close implements [audio.OutputDevice].
func (o *OutputDevice) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.CallCountClose++
	o.closed = true
	return o.CloseError
}

// Starts returns a snapshot of the recorded Start calls.
func (o *OutputDevice) Starts() []StartCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]StartCall(nil), o.StartCalls...)
}

// Closed reports whether Close has been called.
func (o *OutputDevice) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

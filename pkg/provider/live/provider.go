// Package live defines the streaming session used to talk to real-time
// multimodal models, and the Provider interface that transports implement.
//
// A [Session] is a bidirectional, long-lived connection: microphone frames go
// up, model audio and transcripts come down. The session owns the connection
// life cycle (connecting, open, closed), buffers frames submitted before the
// connection is ready, and delivers every inbound event through a single
// dispatch goroutine so that consumers never see callbacks concurrently.
//
// Wire protocols live in sub-packages: live/gemini (raw WebSocket),
// live/genai (official Google SDK), live/openai (OpenAI Realtime), and
// live/mock for tests.
package live

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/livewire/pkg/audio"
)

// Modality is a response modality requested from the model.
type Modality string

const (
	// ModalityAudio requests spoken responses.
	ModalityAudio Modality = "AUDIO"

	// ModalityText requests text responses.
	ModalityText Modality = "TEXT"
)

// Config is the initial configuration for a new session.
type Config struct {
	// Model is the provider-specific model identifier. Empty selects the
	// transport's default.
	Model string

	// ResponseModalities lists what the model should answer with. At most one
	// modality is accepted; empty means audio.
	ResponseModalities []Modality

	// InputTranscription asks the model to transcribe the user's speech.
	InputTranscription bool

	// OutputTranscription asks the model to transcribe its own speech.
	OutputTranscription bool

	// Voice is the prebuilt voice name. Empty leaves the provider default.
	Voice string

	// Instructions is the system instruction for the model.
	Instructions string

	// InputSampleRate is the rate of submitted frames. Default:
	// [audio.CaptureSampleRate].
	InputSampleRate int
}

// WithDefaults returns a copy of c with zero fields filled in.
func (c Config) WithDefaults() Config {
	if len(c.ResponseModalities) == 0 {
		c.ResponseModalities = []Modality{ModalityAudio}
	}
	if c.InputSampleRate == 0 {
		c.InputSampleRate = audio.CaptureSampleRate
	}
	return c
}

// Validate reports configuration errors, all wrapping [ErrInvalidConfig].
func (c Config) Validate() error {
	var errs []error
	if len(c.ResponseModalities) > 1 {
		errs = append(errs, fmt.Errorf("%w: at most one response modality is supported, got %d", ErrInvalidConfig, len(c.ResponseModalities)))
	}
	for _, m := range c.ResponseModalities {
		if m != ModalityAudio && m != ModalityText {
			errs = append(errs, fmt.Errorf("%w: unknown response modality %q", ErrInvalidConfig, m))
		}
	}
	if c.InputSampleRate < 0 {
		errs = append(errs, fmt.Errorf("%w: input sample rate %d", ErrInvalidConfig, c.InputSampleRate))
	}
	return errors.Join(errs...)
}

// WantsAudio reports whether the configured response modality is audio.
func (c Config) WantsAudio() bool {
	return len(c.ResponseModalities) == 0 || c.ResponseModalities[0] == ModalityAudio
}

// Conn is an established transport connection. It is driven by a [Session]:
// SendAudio is called from a single writer goroutine and Receive from a
// single reader goroutine, possibly concurrently with each other.
type Conn interface {
	// SendAudio transmits one frame. It may block on the network and must
	// return when ctx is cancelled.
	SendAudio(ctx context.Context, frame audio.AudioFrame) error

	// Receive blocks until at least one server message arrives and returns the
	// events it carries, in order. It returns io.EOF when the remote side
	// closed the connection normally. A message with no session-relevant
	// content yields an empty slice and a nil error.
	Receive(ctx context.Context) ([]Event, error)

	// Close releases the connection. Safe to call more than once and
	// concurrently with SendAudio and Receive, which then return errors.
	Close() error
}

// Provider dials transport connections.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Dial connects and completes any protocol handshake. When Dial returns
	// without error the connection accepts audio immediately.
	Dial(ctx context.Context, cfg Config) (Conn, error)

	// Name returns a short identifier used in logs and metrics.
	Name() string
}

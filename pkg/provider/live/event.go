package live

import "fmt"

// EventKind discriminates the variants of [Event].
type EventKind int

const (
	// EventAudio carries a chunk of model speech in Event.Audio.
	EventAudio EventKind = iota + 1

	// EventTranscript carries transcript text in Event.Text; Event.Source
	// tells whose speech it is.
	EventTranscript

	// EventTurnComplete marks the end of a model turn.
	EventTurnComplete

	// EventInterrupted reports that the user spoke over the model; playback of
	// the current turn should stop.
	EventInterrupted

	// EventError is an error reported by the server. Event.Err holds it.
	EventError
)

// String returns the kind name.
func (k EventKind) String() string {
	switch k {
	case EventAudio:
		return "audio"
	case EventTranscript:
		return "transcript"
	case EventTurnComplete:
		return "turn_complete"
	case EventInterrupted:
		return "interrupted"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// TranscriptSource identifies whose speech a transcript describes.
type TranscriptSource int

const (
	// SourceInput is the user's speech.
	SourceInput TranscriptSource = iota + 1

	// SourceOutput is the model's speech.
	SourceOutput
)

// String returns "input" or "output".
func (s TranscriptSource) String() string {
	switch s {
	case SourceInput:
		return "input"
	case SourceOutput:
		return "output"
	default:
		return fmt.Sprintf("TranscriptSource(%d)", int(s))
	}
}

// Event is one decoded server message fragment. Only the fields relevant to
// Kind are set.
type Event struct {
	Kind EventKind

	// Audio is PCM16 mono audio (EventAudio).
	Audio []byte
	// SampleRate of Audio in Hz (EventAudio).
	SampleRate int
	// MIMEType as announced by the server (EventAudio).
	MIMEType string

	// Text is a transcript fragment (EventTranscript).
	Text string
	// Source of the transcript (EventTranscript).
	Source TranscriptSource

	// Err is the server-reported error (EventError).
	Err error
}

// AudioEvent builds an [EventAudio].
func AudioEvent(data []byte, sampleRate int, mimeType string) Event {
	return Event{Kind: EventAudio, Audio: data, SampleRate: sampleRate, MIMEType: mimeType}
}

// TranscriptEvent builds an [EventTranscript].
func TranscriptEvent(src TranscriptSource, text string) Event {
	return Event{Kind: EventTranscript, Source: src, Text: text}
}

// ErrorEvent builds an [EventError].
func ErrorEvent(err error) Event {
	return Event{Kind: EventError, Err: err}
}

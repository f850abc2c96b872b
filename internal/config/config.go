// Package config provides the configuration schema, loader, and provider registry
// for livewire.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Mode selects what a run does with the live session.
type Mode string

const (
	// ModeConversation plays the model's spoken answers back.
	ModeConversation Mode = "conversation"

	// ModeTranscription only accumulates the transcript of the user's speech.
	ModeTranscription Mode = "transcription"
)

// IsValid reports whether m is a recognised mode.
func (m Mode) IsValid() bool {
	return m == ModeConversation || m == ModeTranscription
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig  `yaml:"server"`
	Mode     Mode          `yaml:"mode"`
	Provider ProviderEntry `yaml:"provider"`
	Session  SessionConfig `yaml:"session"`
	Audio    AudioConfig   `yaml:"audio"`
}

// ServerConfig holds the observability listener and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address serving /metrics, /healthz and /readyz
	// (e.g., ":9090"). Empty disables the listener.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// ProviderEntry selects and configures the live model transport. The Name
// field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider (e.g., "gemini-live", "openai-realtime").
	Name string `yaml:"name"`

	// APIKey is the authentication key. When empty it is read from the
	// environment (see [ApplyDefaults]).
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered by the fields above
	// (for example "project" and "location" for the Vertex AI backend).
	Options map[string]any `yaml:"options"`

	// Fallbacks are dialed in order when this provider cannot be reached.
	// Only honoured on the top-level provider.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// SessionConfig is the initial configuration sent to the model.
type SessionConfig struct {
	// Voice is the prebuilt voice name.
	Voice string `yaml:"voice"`

	// Instructions is the system instruction.
	Instructions string `yaml:"instructions"`

	// ResponseModality is "AUDIO" or "TEXT". Defaults to AUDIO in
	// conversation mode and TEXT in transcription mode.
	ResponseModality string `yaml:"response_modality"`

	// InputTranscription requests transcripts of the user's speech. Always
	// on in transcription mode.
	InputTranscription bool `yaml:"input_transcription"`

	// OutputTranscription requests transcripts of the model's speech.
	OutputTranscription bool `yaml:"output_transcription"`
}

// AudioConfig selects the capture and playback backends.
type AudioConfig struct {
	Input  InputConfig  `yaml:"input"`
	Output OutputConfig `yaml:"output"`
}

// InputConfig configures the microphone.
type InputConfig struct {
	// Backend is the registered input backend (default "malgo").
	Backend string `yaml:"backend"`

	// SampleRate in Hz (default 16000).
	SampleRate int `yaml:"sample_rate"`

	// BlockSize is the number of samples per uploaded frame (default 4096).
	BlockSize int `yaml:"block_size"`
}

// OutputConfig configures the speaker.
type OutputConfig struct {
	// Backend is the registered output backend (default "oto").
	Backend string `yaml:"backend"`

	// SampleRate in Hz (default 24000).
	SampleRate int `yaml:"sample_rate"`

	// Channels is the device channel count (default 1).
	Channels int `yaml:"channels"`

	// Buffer is the device buffer length (default 100ms).
	Buffer time.Duration `yaml:"buffer"`
}

package config_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/livewire/internal/config"
	"github.com/MrWong99/livewire/pkg/audio"
	audiomock "github.com/MrWong99/livewire/pkg/audio/mock"
	"github.com/MrWong99/livewire/pkg/provider/live"
	livemock "github.com/MrWong99/livewire/pkg/provider/live/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug

mode: conversation

provider:
  name: gemini-live
  api_key: test-key
  model: gemini-2.5-flash-native-audio-preview-09-2025

session:
  voice: Aoede
  instructions: You are a friendly assistant.
  output_transcription: true

audio:
  input:
    backend: malgo
    sample_rate: 16000
    block_size: 2048
  output:
    backend: oto
    sample_rate: 48000
    channels: 2
    buffer: 50ms
`

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("server.listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":9090")
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server.log_level: got %q, want %q", cfg.Server.LogLevel, config.LogDebug)
	}
	if cfg.Provider.Name != "gemini-live" || cfg.Provider.APIKey != "test-key" {
		t.Errorf("provider: got %+v", cfg.Provider)
	}
	if cfg.Session.Voice != "Aoede" || !cfg.Session.OutputTranscription {
		t.Errorf("session: got %+v", cfg.Session)
	}
	if cfg.Session.ResponseModality != "AUDIO" {
		t.Errorf("session.response_modality: got %q, want AUDIO", cfg.Session.ResponseModality)
	}
	if cfg.Audio.Input.BlockSize != 2048 {
		t.Errorf("audio.input.block_size: got %d, want 2048", cfg.Audio.Input.BlockSize)
	}
	if cfg.Audio.Output.Channels != 2 || cfg.Audio.Output.SampleRate != 48000 {
		t.Errorf("audio.output: got %+v", cfg.Audio.Output)
	}
	if cfg.Audio.Output.Buffer != 50*time.Millisecond {
		t.Errorf("audio.output.buffer: got %s, want 50ms", cfg.Audio.Output.Buffer)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader("provider:\n  api_key: k\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Mode != config.ModeConversation {
		t.Errorf("mode: got %q", cfg.Mode)
	}
	if cfg.Provider.Name != config.ProviderGeminiLive {
		t.Errorf("provider.name: got %q", cfg.Provider.Name)
	}
	in, out := cfg.Audio.Input, cfg.Audio.Output
	if in.Backend != "malgo" || in.SampleRate != 16000 || in.BlockSize != 4096 {
		t.Errorf("audio.input defaults: got %+v", in)
	}
	if out.Backend != "oto" || out.SampleRate != 24000 || out.Channels != 1 || out.Buffer != 100*time.Millisecond {
		t.Errorf("audio.output defaults: got %+v", out)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log level default: got %q", cfg.Server.LogLevel)
	}
}

func TestLoadFromReader_TranscriptionModeDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader("mode: transcription\nprovider:\n  api_key: k\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Session.InputTranscription {
		t.Error("transcription mode should force input_transcription")
	}
	if cfg.Session.ResponseModality != "TEXT" {
		t.Errorf("response_modality: got %q, want TEXT", cfg.Session.ResponseModality)
	}
}

func TestLoadFromReader_LowercaseModality(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader("provider:\n  api_key: k\nsession:\n  response_modality: text\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Session.ResponseModality != "TEXT" {
		t.Errorf("response_modality: got %q, want TEXT", cfg.Session.ResponseModality)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader("provider:\n  api_key: k\n  colour: blue\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

// ── Validation ────────────────────────────────────────────────────────────────

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantSub string
	}{
		{"invalid log level", "server:\n  log_level: verbose\n", "log_level"},
		{"invalid mode", "mode: karaoke\n", "mode"},
		{"invalid modality", "session:\n  response_modality: VIDEO\n", "response_modality"},
		{"negative block size", "audio:\n  input:\n    block_size: -1\n", "block_size"},
		{"too many channels", "audio:\n  output:\n    channels: 12\n", "channels"},
		{"negative buffer", "audio:\n  output:\n    buffer: -5ms\n", "buffer"},
		{"negative input rate", "audio:\n  input:\n    sample_rate: -16000\n", "sample_rate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader("provider:\n  api_key: k\n" + tt.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error should mention %q, got: %v", tt.wantSub, err)
			}
		})
	}
}

func TestValidate_JoinsAllErrors(t *testing.T) {
	t.Parallel()

	yaml := `
provider:
  api_key: k
server:
  log_level: loud
mode: karaoke
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, sub := range []string{"log_level", "mode"} {
		if !strings.Contains(err.Error(), sub) {
			t.Errorf("error should mention %q, got: %v", sub, err)
		}
	}
}

func TestValidate_Fallbacks(t *testing.T) {
	t.Parallel()

	ok := `
provider:
  name: gemini-live
  api_key: k
  fallbacks:
    - name: openai-realtime
      api_key: sk
      model: gpt-4o-realtime-preview
`
	cfg, err := config.LoadFromReader(strings.NewReader(ok))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Provider.Fallbacks) != 1 || cfg.Provider.Fallbacks[0].Model != "gpt-4o-realtime-preview" {
		t.Errorf("fallbacks = %+v", cfg.Provider.Fallbacks)
	}

	nested := `
provider:
  name: gemini-live
  api_key: k
  fallbacks:
    - name: gemini-sdk
      api_key: k2
      fallbacks:
        - name: openai-realtime
          api_key: sk
`
	_, err = config.LoadFromReader(strings.NewReader(nested))
	if err == nil || !strings.Contains(err.Error(), "provider.fallbacks[0].fallbacks") {
		t.Errorf("nested fallbacks: got %v", err)
	}

	unnamed := "provider:\n  api_key: k\n  fallbacks:\n    - api_key: x\n"
	_, err = config.LoadFromReader(strings.NewReader(unnamed))
	if err == nil || !strings.Contains(err.Error(), "provider.fallbacks[0].name") {
		t.Errorf("unnamed fallback: got %v", err)
	}
}

// ── Registry ──────────────────────────────────────────────────────────────────

func TestRegistry_Provider(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	var got config.ProviderEntry
	reg.RegisterProvider("mock", func(e config.ProviderEntry) (live.Provider, error) {
		got = e
		return &livemock.Provider{ProviderName: "mock"}, nil
	})

	p, err := reg.CreateProvider(config.ProviderEntry{Name: "mock", APIKey: "abc"})
	if err != nil {
		t.Fatalf("CreateProvider: %v", err)
	}
	if p.Name() != "mock" || got.APIKey != "abc" {
		t.Errorf("unexpected provider %q / entry %+v", p.Name(), got)
	}

	_, err = reg.CreateProvider(config.ProviderEntry{Name: "missing"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("error = %v; want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_AudioBackends(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	reg.RegisterInput("fake", func(config.InputConfig) (audio.InputDevice, error) {
		return &audiomock.InputDevice{}, nil
	})
	reg.RegisterOutput("fake", func(config.OutputConfig) (audio.OutputDevice, error) {
		return audiomock.NewOutputDevice(), nil
	})

	in, err := reg.CreateInput(config.InputConfig{Backend: "fake"})
	if err != nil {
		t.Fatalf("CreateInput: %v", err)
	}
	stream, err := in.Open(context.Background(), audio.CaptureConfig{}, func([]float32) {})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = stream.Stop()

	if _, err := reg.CreateOutput(config.OutputConfig{Backend: "fake"}); err != nil {
		t.Fatalf("CreateOutput: %v", err)
	}
	if _, err := reg.CreateOutput(config.OutputConfig{Backend: "pulse"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("error = %v; want ErrProviderNotRegistered", err)
	}
	if _, err := reg.CreateInput(config.InputConfig{Backend: "alsa"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("error = %v; want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_NamesSorted(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	for _, n := range []string{"openai-realtime", "gemini-live", "gemini-sdk"} {
		reg.RegisterProvider(n, func(config.ProviderEntry) (live.Provider, error) { return nil, nil })
	}
	got := strings.Join(reg.Names(), ",")
	if got != "gemini-live,gemini-sdk,openai-realtime" {
		t.Errorf("Names() = %s", got)
	}
}

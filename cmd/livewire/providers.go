package main

import (
	"fmt"
	"log/slog"

	"github.com/MrWong99/livewire/internal/config"
	"github.com/MrWong99/livewire/internal/resilience"
	"github.com/MrWong99/livewire/pkg/audio"
	"github.com/MrWong99/livewire/pkg/audio/mic"
	"github.com/MrWong99/livewire/pkg/audio/speaker"
	"github.com/MrWong99/livewire/pkg/provider/live"
	"github.com/MrWong99/livewire/pkg/provider/live/gemini"
	"github.com/MrWong99/livewire/pkg/provider/live/genai"
	"github.com/MrWong99/livewire/pkg/provider/live/openai"
)

// registerBuiltins wires the providers and audio backends that ship with
// livewire into reg.
func registerBuiltins(reg *config.Registry, logger *slog.Logger) {
	// ── Live providers ────────────────────────────────────────────────────────

	reg.RegisterProvider(config.ProviderGeminiLive, func(entry config.ProviderEntry) (live.Provider, error) {
		opts := []gemini.Option{gemini.WithLogger(logger)}
		if entry.Model != "" {
			opts = append(opts, gemini.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(entry.BaseURL))
		}
		return gemini.New(entry.APIKey, opts...), nil
	})

	// gemini-sdk uses Vertex AI when options.project is set:
	//
	//	provider:
	//	  name: gemini-sdk
	//	  options:
	//	    project: my-project
	//	    location: us-central1
	reg.RegisterProvider(config.ProviderGeminiSDK, func(entry config.ProviderEntry) (live.Provider, error) {
		opts := []genai.Option{genai.WithLogger(logger)}
		if entry.Model != "" {
			opts = append(opts, genai.WithModel(entry.Model))
		}
		if project := optString(entry.Options, "project"); project != "" {
			location := optString(entry.Options, "location")
			if location == "" {
				location = "us-central1"
			}
			opts = append(opts, genai.WithVertexAI(project, location))
		}
		return genai.New(entry.APIKey, opts...), nil
	})

	reg.RegisterProvider(config.ProviderOpenAIRealtime, func(entry config.ProviderEntry) (live.Provider, error) {
		opts := []openai.Option{openai.WithLogger(logger)}
		if entry.Model != "" {
			opts = append(opts, openai.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		return openai.New(entry.APIKey, opts...), nil
	})

	// ── Audio backends ────────────────────────────────────────────────────────

	reg.RegisterInput(config.BackendMalgo, func(config.InputConfig) (audio.InputDevice, error) {
		return mic.New(mic.WithLogger(logger)), nil
	})

	reg.RegisterOutput(config.BackendOto, func(cfg config.OutputConfig) (audio.OutputDevice, error) {
		dev, err := speaker.Open(speaker.Config{
			SampleRate: cfg.SampleRate,
			Channels:   cfg.Channels,
			BufferSize: cfg.Buffer,
		})
		if err != nil {
			return nil, err
		}
		return dev, nil
	})
}

// buildProvider creates the configured provider. With fallbacks configured it
// returns a [resilience.FailoverProvider] dialing them in order.
func buildProvider(reg *config.Registry, entry config.ProviderEntry, logger *slog.Logger) (live.Provider, error) {
	primary, err := reg.CreateProvider(entry)
	if err != nil {
		return nil, fmt.Errorf("create provider %q: %w", entry.Name, err)
	}
	if len(entry.Fallbacks) == 0 {
		return primary, nil
	}

	fallbacks := make([]live.Provider, 0, len(entry.Fallbacks))
	for i, fb := range entry.Fallbacks {
		p, err := reg.CreateProvider(fb)
		if err != nil {
			return nil, fmt.Errorf("create fallback %d %q: %w", i, fb.Name, err)
		}
		fallbacks = append(fallbacks, p)
	}
	return resilience.NewFailover(resilience.BreakerConfig{Logger: logger}, primary, fallbacks...), nil
}

// optString returns opts[key] if it is a string, or "".
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

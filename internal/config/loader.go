package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider and backend names understood by the default registry.
const (
	ProviderGeminiLive     = "gemini-live"
	ProviderGeminiSDK      = "gemini-sdk"
	ProviderOpenAIRealtime = "openai-realtime"

	BackendMalgo = "malgo"
	BackendOto   = "oto"
)

// ValidProviderNames lists known names per registry kind.
// Used by [Validate] to warn about unrecognised names.
var ValidProviderNames = map[string][]string{
	"provider": {ProviderGeminiLive, ProviderGeminiSDK, ProviderOpenAIRealtime},
	"input":    {BackendMalgo},
	"output":   {BackendOto},
}

// apiKeyEnv lists the environment variables consulted, in order, when a
// provider entry has no api_key.
var apiKeyEnv = map[string][]string{
	ProviderGeminiLive:     {"GEMINI_API_KEY", "API_KEY"},
	ProviderGeminiSDK:      {"GEMINI_API_KEY", "GOOGLE_API_KEY", "API_KEY"},
	ProviderOpenAIRealtime: {"OPENAI_API_KEY"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero fields of cfg in place. A missing provider API key
// is taken from the environment.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeConversation
	}
	if cfg.Provider.Name == "" {
		cfg.Provider.Name = ProviderGeminiLive
	}
	applyAPIKey(&cfg.Provider)
	for i := range cfg.Provider.Fallbacks {
		applyAPIKey(&cfg.Provider.Fallbacks[i])
	}

	cfg.Session.ResponseModality = strings.ToUpper(cfg.Session.ResponseModality)
	if cfg.Session.ResponseModality == "" {
		cfg.Session.ResponseModality = "AUDIO"
		if cfg.Mode == ModeTranscription {
			cfg.Session.ResponseModality = "TEXT"
		}
	}
	if cfg.Mode == ModeTranscription {
		cfg.Session.InputTranscription = true
	}

	in := &cfg.Audio.Input
	if in.Backend == "" {
		in.Backend = BackendMalgo
	}
	if in.SampleRate == 0 {
		in.SampleRate = 16000
	}
	if in.BlockSize == 0 {
		in.BlockSize = 4096
	}

	out := &cfg.Audio.Output
	if out.Backend == "" {
		out.Backend = BackendOto
	}
	if out.SampleRate == 0 {
		out.SampleRate = 24000
	}
	if out.Channels == 0 {
		out.Channels = 1
	}
	if out.Buffer == 0 {
		out.Buffer = 100 * time.Millisecond
	}
}

// applyAPIKey fills a missing key from the provider's environment variables.
func applyAPIKey(entry *ProviderEntry) {
	if entry.APIKey != "" {
		return
	}
	for _, env := range apiKeyEnv[entry.Name] {
		if v := os.Getenv(env); v != "" {
			entry.APIKey = v
			return
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if !cfg.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("mode %q is invalid; valid values: conversation, transcription", cfg.Mode))
	}

	validateProviderName("provider", cfg.Provider.Name)
	validateProviderName("input", cfg.Audio.Input.Backend)
	if cfg.Mode == ModeConversation {
		validateProviderName("output", cfg.Audio.Output.Backend)
	}

	errs = append(errs, validateEntry("provider", cfg.Provider)...)
	for i, fb := range cfg.Provider.Fallbacks {
		key := fmt.Sprintf("provider.fallbacks[%d]", i)
		validateProviderName("provider", fb.Name)
		errs = append(errs, validateEntry(key, fb)...)
		if len(fb.Fallbacks) > 0 {
			errs = append(errs, fmt.Errorf("%s.fallbacks must be empty", key))
		}
	}

	switch cfg.Session.ResponseModality {
	case "AUDIO", "TEXT":
	default:
		errs = append(errs, fmt.Errorf("session.response_modality %q is invalid; valid values: AUDIO, TEXT", cfg.Session.ResponseModality))
	}
	if cfg.Mode == ModeConversation && cfg.Session.ResponseModality == "TEXT" {
		slog.Warn("conversation mode with TEXT responses; nothing will be played back")
	}

	if cfg.Audio.Input.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.input.sample_rate %d must be positive", cfg.Audio.Input.SampleRate))
	}
	if cfg.Audio.Input.BlockSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.input.block_size %d must be positive", cfg.Audio.Input.BlockSize))
	}
	if cfg.Audio.Output.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.output.sample_rate %d must be positive", cfg.Audio.Output.SampleRate))
	}
	if cfg.Audio.Output.Channels < 1 || cfg.Audio.Output.Channels > 8 {
		errs = append(errs, fmt.Errorf("audio.output.channels %d is out of range [1, 8]", cfg.Audio.Output.Channels))
	}
	if cfg.Audio.Output.Buffer < 0 {
		errs = append(errs, fmt.Errorf("audio.output.buffer %s must not be negative", cfg.Audio.Output.Buffer))
	}

	return errors.Join(errs...)
}

// validateEntry checks the name and credentials of one provider entry.
func validateEntry(key string, entry ProviderEntry) []error {
	if entry.Name == "" {
		return []error{fmt.Errorf("%s.name is required", key)}
	}
	if entry.APIKey == "" && !usesVertex(entry) {
		return []error{fmt.Errorf("%s.api_key is required for %q (or set %s)",
			key, entry.Name, strings.Join(apiKeyEnv[entry.Name], " / "))}
	}
	return nil
}

// usesVertex reports whether entry authenticates with Google Cloud
// credentials instead of an API key.
func usesVertex(entry ProviderEntry) bool {
	if entry.Name != ProviderGeminiSDK {
		return false
	}
	project, _ := entry.Options["project"].(string)
	return project != ""
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown name, may be a typo or a custom registration",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

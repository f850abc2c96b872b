package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"go.opentelemetry.io/otel"

	"github.com/MrWong99/livewire/internal/app"
	"github.com/MrWong99/livewire/internal/config"
	"github.com/MrWong99/livewire/internal/observe"
	"github.com/MrWong99/livewire/internal/resilience"
	audiomock "github.com/MrWong99/livewire/pkg/audio/mock"
	"github.com/MrWong99/livewire/pkg/provider/live"
	livemock "github.com/MrWong99/livewire/pkg/provider/live/mock"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "livewire.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig_SubcommandSetsMode(t *testing.T) {
	path := writeConfig(t, `
mode: conversation
provider:
  name: openai-realtime
  api_key: sk-test
session:
  response_modality: audio
`)

	cfg, err := loadConfig(path, true, config.ModeTranscription)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Mode != config.ModeTranscription {
		t.Errorf("Mode = %q, want transcription", cfg.Mode)
	}
	if !cfg.Session.InputTranscription {
		t.Error("InputTranscription not enabled")
	}
	if cfg.Session.ResponseModality != "TEXT" {
		t.Errorf("ResponseModality = %q, want TEXT", cfg.Session.ResponseModality)
	}
}

func TestLoadConfig_MissingDefaultFallsBack(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "env-key")
	missing := filepath.Join(t.TempDir(), "nope.yaml")

	cfg, err := loadConfig(missing, false, config.ModeConversation)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Provider.Name != config.ProviderGeminiLive || cfg.Provider.APIKey != "env-key" {
		t.Errorf("provider = %+v", cfg.Provider)
	}

	if _, err := loadConfig(missing, true, config.ModeConversation); err == nil {
		t.Error("explicit missing --config should fail")
	}
}

func TestSessionConfig(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Provider: config.ProviderEntry{Model: "m"},
		Session: config.SessionConfig{
			Voice:               "Kore",
			Instructions:        "be brief",
			ResponseModality:    "AUDIO",
			OutputTranscription: true,
		},
		Audio: config.AudioConfig{Input: config.InputConfig{SampleRate: 16000}},
	}
	got := sessionConfig(cfg)
	if got.Model != "" || got.Voice != "Kore" || got.Instructions != "be brief" {
		t.Errorf("sessionConfig = %+v", got)
	}
	if len(got.ResponseModalities) != 1 || got.ResponseModalities[0] != live.ModalityAudio {
		t.Errorf("ResponseModalities = %v", got.ResponseModalities)
	}
	if !got.OutputTranscription || got.InputTranscription {
		t.Errorf("transcription flags = in %v, out %v", got.InputTranscription, got.OutputTranscription)
	}
	if got.InputSampleRate != 16000 {
		t.Errorf("InputSampleRate = %d", got.InputSampleRate)
	}
}

func TestRegisterBuiltins(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	registerBuiltins(reg, slog.Default())

	tests := []struct {
		entry config.ProviderEntry
		want  string
	}{
		{config.ProviderEntry{Name: config.ProviderGeminiLive, APIKey: "k"}, "gemini-live"},
		{config.ProviderEntry{Name: config.ProviderGeminiSDK, APIKey: "k"}, "gemini-sdk"},
		{config.ProviderEntry{Name: config.ProviderGeminiSDK, Options: map[string]any{"project": "p"}}, "gemini-sdk"},
		{config.ProviderEntry{Name: config.ProviderOpenAIRealtime, APIKey: "k", Model: "gpt-realtime"}, "openai-realtime"},
	}
	for _, tc := range tests {
		t.Run(tc.want, func(t *testing.T) {
			p, err := reg.CreateProvider(tc.entry)
			if err != nil {
				t.Fatalf("CreateProvider: %v", err)
			}
			if p.Name() != tc.want {
				t.Errorf("Name = %q, want %q", p.Name(), tc.want)
			}
		})
	}

	if _, err := reg.CreateInput(config.InputConfig{Backend: config.BackendMalgo}); err != nil {
		t.Errorf("CreateInput(malgo): %v", err)
	}
}

func TestBuildProvider_Fallbacks(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	registerBuiltins(reg, slog.Default())

	single, err := buildProvider(reg, config.ProviderEntry{Name: config.ProviderGeminiLive, APIKey: "k"}, slog.Default())
	if err != nil {
		t.Fatalf("buildProvider: %v", err)
	}
	if _, ok := single.(*resilience.FailoverProvider); ok {
		t.Error("single provider wrapped in failover")
	}

	p, err := buildProvider(reg, config.ProviderEntry{
		Name:      config.ProviderGeminiLive,
		APIKey:    "k",
		Fallbacks: []config.ProviderEntry{{Name: config.ProviderOpenAIRealtime, APIKey: "sk"}},
	}, slog.Default())
	if err != nil {
		t.Fatalf("buildProvider: %v", err)
	}
	f, ok := p.(*resilience.FailoverProvider)
	if !ok {
		t.Fatalf("got %T, want *resilience.FailoverProvider", p)
	}
	if f.Breaker("openai-realtime") == nil {
		t.Error("fallback not registered")
	}

	_, err = buildProvider(reg, config.ProviderEntry{
		Name:      config.ProviderGeminiLive,
		Fallbacks: []config.ProviderEntry{{Name: "carrier-pigeon"}},
	}, slog.Default())
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("unknown fallback: got %v, want ErrProviderNotRegistered", err)
	}
}

func TestOptString(t *testing.T) {
	t.Parallel()
	opts := map[string]any{"project": "p", "n": 3}
	if optString(opts, "project") != "p" || optString(opts, "n") != "" || optString(nil, "x") != "" {
		t.Error("optString mismatch")
	}
}

func TestHTTPServer_Routes(t *testing.T) {
	prevMP, prevTP := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(prevMP)
		otel.SetTracerProvider(prevTP)
	})
	tel, err := observe.Init(context.Background(), observe.ProviderConfig{})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	ctrl, err := app.New(app.Config{Mode: config.ModeTranscription}, app.Deps{
		Provider: &livemock.Provider{Conn: livemock.NewConn()},
		Input:    &audiomock.InputDevice{},
	}, app.WithMetrics(tel.Metrics))
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}

	srv := httptest.NewServer(newHTTPServer(":0", ctrl, tel).Handler)
	defer srv.Close()

	tests := []struct {
		path string
		code int
	}{
		{"/healthz", http.StatusOK},
		{"/readyz", http.StatusServiceUnavailable},
		{"/status", http.StatusOK},
		{"/metrics", http.StatusOK},
		{"/nope", http.StatusNotFound},
	}
	for _, tc := range tests {
		resp, err := srv.Client().Get(srv.URL + tc.path)
		if err != nil {
			t.Fatalf("GET %s: %v", tc.path, err)
		}
		if resp.StatusCode != tc.code {
			t.Errorf("GET %s = %d, want %d", tc.path, resp.StatusCode, tc.code)
		}
		if resp.Header.Get(observe.CorrelationHeader) == "" {
			t.Errorf("GET %s: missing %s", tc.path, observe.CorrelationHeader)
		}
		if tc.path == "/status" {
			var info map[string]any
			if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
				t.Errorf("decode /status: %v", err)
			} else if info["session_state"] != "closed" {
				t.Errorf("idle session_state = %v, want closed", info["session_state"])
			}
		}
		resp.Body.Close()
	}
}

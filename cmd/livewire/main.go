// Command livewire streams the microphone to a live speech model and plays or
// prints what comes back.
//
// Usage:
//
//	livewire converse   [--config livewire.yaml] [--log-level debug]
//	livewire transcribe [--config livewire.yaml]
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/livewire/internal/app"
	"github.com/MrWong99/livewire/internal/config"
	"github.com/MrWong99/livewire/internal/health"
	"github.com/MrWong99/livewire/internal/observe"
	"github.com/MrWong99/livewire/pkg/audio"
	"github.com/MrWong99/livewire/pkg/provider/live"
)

const defaultConfigPath = "livewire.yaml"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "livewire",
	Short: "Real-time voice sessions with live speech models",
	Long: `livewire captures the microphone, streams it to a live speech model
(Gemini Live or OpenAI Realtime) and either plays the spoken answers or
prints a live transcript.

Without a config file the built-in defaults are used and the API key is read
from GEMINI_API_KEY, GOOGLE_API_KEY, API_KEY or OPENAI_API_KEY depending on
the provider.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var converseCmd = &cobra.Command{
	Use:   "converse",
	Short: "Talk to the model and hear it answer",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd, config.ModeConversation)
	},
}

var transcribeCmd = &cobra.Command{
	Use:   "transcribe",
	Short: "Print a live transcript of the microphone",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd, config.ModeTranscription)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override server.log_level (debug, info, warn, error)")
	rootCmd.AddCommand(converseCmd, transcribeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "livewire:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, mode config.Mode) error {
	// ── Configuration ─────────────────────────────────────────────────────────
	cfg, err := loadConfig(configPath, cmd.Flags().Changed("config"), mode)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Server.LogLevel = config.LogLevel(logLevel)
		if !cfg.Server.LogLevel.IsValid() {
			return fmt.Errorf("invalid --log-level %q", logLevel)
		}
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := observe.Init(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()

	// ── Providers and devices ─────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltins(reg, logger)

	provider, err := buildProvider(reg, cfg.Provider, logger)
	if err != nil {
		return err
	}
	input, err := reg.CreateInput(cfg.Audio.Input)
	if err != nil {
		return fmt.Errorf("create input %q: %w", cfg.Audio.Input.Backend, err)
	}
	deps := app.Deps{Provider: provider, Input: input}
	if mode == config.ModeConversation {
		deps.OpenOutput = func() (audio.OutputDevice, error) {
			return reg.CreateOutput(cfg.Audio.Output)
		}
	}

	ctrl, err := app.New(app.Config{
		Mode:    mode,
		Session: sessionConfig(cfg),
		Capture: audio.CaptureConfig{
			SampleRate: cfg.Audio.Input.SampleRate,
			BlockSize:  cfg.Audio.Input.BlockSize,
		},
	}, deps,
		app.WithLogger(logger),
		app.WithMetrics(tel.Metrics),
		app.WithTranscriptHook(transcriptPrinter(mode)),
	)
	if err != nil {
		return err
	}

	slog.Info("livewire starting",
		"mode", mode,
		"provider", provider.Name(),
		"model", cfg.Provider.Model,
		"listen_addr", cfg.Server.ListenAddr,
	)

	// ── Run ───────────────────────────────────────────────────────────────────
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	if cfg.Server.ListenAddr != "" {
		srv := newHTTPServer(cfg.Server.ListenAddr, ctrl, tel)
		g.Go(func() error {
			slog.Info("http listening", "addr", cfg.Server.ListenAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			return srv.Shutdown(sctx)
		})
	}

	g.Go(func() error {
		// The session ending on its own also ends the HTTP listener.
		defer cancel()
		return ctrl.Run(gctx)
	})

	err = g.Wait()
	if mode == config.ModeTranscription {
		fmt.Println()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("goodbye")
	return nil
}

// loadConfig reads path, or falls back to the defaults when the default path
// does not exist. The subcommand decides the mode.
func loadConfig(path string, explicit bool, mode config.Mode) (*config.Config, error) {
	cfg, err := config.Load(path)
	switch {
	case errors.Is(err, os.ErrNotExist) && !explicit:
		cfg = config.Default()
	case err != nil:
		return nil, err
	}

	cfg.Mode = mode
	if mode == config.ModeTranscription {
		cfg.Session.InputTranscription = true
		cfg.Session.ResponseModality = string(live.ModalityText)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// sessionConfig maps the YAML session section onto a live session config.
// The model stays empty: each provider is constructed with its own entry's
// model, which matters once a fallback from another vendor is dialed.
func sessionConfig(cfg *config.Config) live.Config {
	return live.Config{
		ResponseModalities:  []live.Modality{live.Modality(cfg.Session.ResponseModality)},
		InputTranscription:  cfg.Session.InputTranscription,
		OutputTranscription: cfg.Session.OutputTranscription,
		Voice:               cfg.Session.Voice,
		Instructions:        cfg.Session.Instructions,
		InputSampleRate:     cfg.Audio.Input.SampleRate,
	}
}

// transcriptPrinter streams input transcription to stdout in transcription
// mode and logs both directions in conversation mode.
func transcriptPrinter(mode config.Mode) func(app.TranscriptEntry) {
	if mode == config.ModeTranscription {
		return func(e app.TranscriptEntry) {
			if e.Source == live.SourceInput {
				fmt.Print(e.Text)
			}
		}
	}
	return func(e app.TranscriptEntry) {
		slog.Info("transcript", "source", e.Source, "text", e.Text)
	}
}

func newHTTPServer(addr string, ctrl *app.Controller, tel *observe.Telemetry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", tel.Handler())
	health.New(
		[]health.Checker{{Name: "session", Check: ctrl.Ready}},
		health.WithStatus(func() any { return ctrl.Info() }),
	).Register(mux)

	return &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(tel.Metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

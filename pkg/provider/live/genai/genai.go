// Package genai implements the live.Provider interface on top of the official
// Google Gen AI SDK (google.golang.org/genai).
//
// It speaks the same Live protocol as package live/gemini but delegates the
// wire format and authentication to the SDK, which also supports the Vertex
// AI backend.
package genai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
	genaisdk "google.golang.org/genai"

	"github.com/MrWong99/livewire/pkg/audio"
	"github.com/MrWong99/livewire/pkg/provider/live"
)

var (
	_ live.Provider = (*Provider)(nil)
	_ live.Conn     = (*conn)(nil)
)

// DefaultModel is the native-audio Live model used when none is configured.
const DefaultModel = "gemini-2.5-flash-native-audio-preview-09-2025"

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model used when live.Config.Model is empty.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithVertexAI switches the client to the Vertex AI backend for the given
// project and location. The API key is ignored and application default
// credentials are used.
func WithVertexAI(project, location string) Option {
	return func(p *Provider) {
		p.clientCfg.Backend = genaisdk.BackendVertexAI
		p.clientCfg.Project = project
		p.clientCfg.Location = location
		p.clientCfg.APIKey = ""
	}
}

// WithLogger sets the provider logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.log = l }
}

// Provider implements live.Provider via the Gen AI SDK. The SDK client is
// created lazily on the first Dial and reused afterwards.
type Provider struct {
	clientCfg genaisdk.ClientConfig
	model     string
	log       *slog.Logger

	mu     sync.Mutex
	client *genaisdk.Client
}

// New creates a Provider authenticating with apiKey against the Gemini API.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		clientCfg: genaisdk.ClientConfig{APIKey: apiKey, Backend: genaisdk.BackendGeminiAPI},
		model:     DefaultModel,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name implements live.Provider.
func (p *Provider) Name() string { return "gemini-sdk" }

func (p *Provider) sdkClient(ctx context.Context) (*genaisdk.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return p.client, nil
	}
	cfg := p.clientCfg
	c, err := genaisdk.NewClient(ctx, &cfg)
	if err != nil {
		return nil, fmt.Errorf("genai: create client: %w", err)
	}
	p.client = c
	return c, nil
}

// Dial opens a Live session and waits for the setup acknowledgement.
func (p *Provider) Dial(ctx context.Context, cfg live.Config) (live.Conn, error) {
	client, err := p.sdkClient(ctx)
	if err != nil {
		return nil, err
	}
	model := cfg.Model
	if model == "" {
		model = p.model
	}

	sess, err := client.Live.Connect(ctx, model, buildConnectConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("genai: connect: %w", err)
	}
	c := &conn{sess: sess, log: p.log, inputRate: cfg.InputSampleRate}
	if c.inputRate <= 0 {
		c.inputRate = audio.CaptureSampleRate
	}

	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()
	for {
		msg, err := sess.Receive()
		if err != nil {
			_ = c.Close()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("genai: await setup: %w", normalizeErr(err))
		}
		if msg.SetupComplete != nil {
			return c, nil
		}
	}
}

// buildConnectConfig translates cfg into the SDK's connect configuration.
func buildConnectConfig(cfg live.Config) *genaisdk.LiveConnectConfig {
	out := &genaisdk.LiveConnectConfig{}
	for _, m := range cfg.ResponseModalities {
		out.ResponseModalities = append(out.ResponseModalities, genaisdk.Modality(m))
	}
	if cfg.Voice != "" {
		out.SpeechConfig = &genaisdk.SpeechConfig{
			VoiceConfig: &genaisdk.VoiceConfig{
				PrebuiltVoiceConfig: &genaisdk.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if cfg.Instructions != "" {
		out.SystemInstruction = &genaisdk.Content{Parts: []*genaisdk.Part{{Text: cfg.Instructions}}}
	}
	if cfg.InputTranscription {
		out.InputAudioTranscription = &genaisdk.AudioTranscriptionConfig{}
	}
	if cfg.OutputTranscription {
		out.OutputAudioTranscription = &genaisdk.AudioTranscriptionConfig{}
	}
	return out
}

// translate converts one SDK server message into session events.
func translate(msg *genaisdk.LiveServerMessage) []live.Event {
	if msg == nil || msg.ServerContent == nil {
		return nil
	}
	sc := msg.ServerContent
	var events []live.Event

	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p == nil {
				continue
			}
			if p.InlineData != nil && len(p.InlineData.Data) > 0 {
				if rate, ok := live.ParseAudioMIME(p.InlineData.MIMEType); ok {
					events = append(events, live.AudioEvent(p.InlineData.Data, rate, p.InlineData.MIMEType))
				}
			}
			if p.Text != "" && !p.Thought {
				events = append(events, live.TranscriptEvent(live.SourceOutput, p.Text))
			}
		}
	}
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		events = append(events, live.TranscriptEvent(live.SourceInput, sc.InputTranscription.Text))
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		events = append(events, live.TranscriptEvent(live.SourceOutput, sc.OutputTranscription.Text))
	}
	if sc.Interrupted {
		events = append(events, live.Event{Kind: live.EventInterrupted})
	}
	if sc.TurnComplete {
		events = append(events, live.Event{Kind: live.EventTurnComplete})
	}
	return events
}

// normalizeErr maps a normal WebSocket close reported by the SDK to io.EOF.
func normalizeErr(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) && (ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway) {
		return io.EOF
	}
	return err
}

type conn struct {
	sess      *genaisdk.Session
	log       *slog.Logger
	inputRate int

	closeOnce sync.Once
	closeErr  error
}

// SendAudio implements live.Conn. The SDK call does not take a context.
func (c *conn) SendAudio(_ context.Context, frame audio.AudioFrame) error {
	rate := frame.SampleRate
	if rate <= 0 {
		rate = c.inputRate
	}
	err := c.sess.SendRealtimeInput(genaisdk.LiveRealtimeInput{
		Audio: &genaisdk.Blob{MIMEType: live.PCMMIMEType(rate), Data: frame.Data},
	})
	if err != nil {
		return fmt.Errorf("genai: send: %w", err)
	}
	return nil
}

// Receive implements live.Conn. Cancelling ctx closes the connection, since
// the SDK's Receive cannot be interrupted otherwise.
func (c *conn) Receive(ctx context.Context) ([]live.Event, error) {
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	msg, err := c.sess.Receive()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		err = normalizeErr(err)
		if errors.Is(err, io.EOF) {
			return nil, err
		}
		return nil, fmt.Errorf("genai: receive: %w", err)
	}
	if msg.GoAway != nil {
		c.log.Info("genai: server announced disconnect")
	}
	return translate(msg), nil
}

// Close implements live.Conn. Idempotent.
func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		if err := c.sess.Close(); err != nil {
			c.closeErr = fmt.Errorf("genai: close: %w", err)
		}
	})
	return c.closeErr
}

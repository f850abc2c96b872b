// Package openai implements the live.Provider interface for OpenAI's Realtime API.
//
// It establishes a bidirectional WebSocket connection to the OpenAI Realtime
// endpoint and exchanges JSON events according to the Realtime API protocol.
// The API only accepts 24 kHz mono pcm16, so captured frames are resampled on
// the way up. Server events are translated into live.Event values.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/livewire/pkg/audio"
	"github.com/MrWong99/livewire/pkg/provider/live"
)

// Compile-time assertions that Provider and conn satisfy the live interfaces.
var _ live.Provider = (*Provider)(nil)
var _ live.Conn = (*conn)(nil)

// errClosed is returned by writes after Close.
var errClosed = errors.New("openai: connection closed")

const (
	// DefaultModel is used when neither the provider nor live.Config names one.
	DefaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"

	// SampleRate is the only rate the Realtime API accepts and produces.
	SampleRate = 24000

	transcriptionModel = "whisper-1"
	setupTimeout       = 15 * time.Second
	readLimit          = 8 << 20
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the OpenAI model used when live.Config.Model is empty.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithLogger sets the provider logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.log = l }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements live.Provider for OpenAI's Realtime API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
	log     *slog.Logger
}

// New creates a new OpenAI Realtime Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   DefaultModel,
		baseURL: defaultBaseURL,
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name implements live.Provider.
func (p *Provider) Name() string { return "openai-realtime" }

// Dial connects, sends session.update and waits for session.updated.
func (p *Provider) Dial(ctx context.Context, cfg live.Config) (live.Conn, error) {
	model := cfg.Model
	if model == "" {
		model = p.model
	}
	wsURL := p.baseURL + "?model=" + url.QueryEscape(model)

	ws, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + p.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: dial: %w", err)
	}
	ws.SetReadLimit(readLimit)

	c := &conn{
		ws:               ws,
		log:              p.log,
		outputTranscript: cfg.OutputTranscription || !cfg.WantsAudio(),
	}

	if err := c.writeJSON(ctx, buildSessionUpdate(cfg)); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("openai: session update: %w", err)
	}

	setupCtx, cancel := context.WithTimeout(ctx, setupTimeout)
	defer cancel()
	if err := c.awaitSessionUpdated(setupCtx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Modalities              []string             `json:"modalities"`
	Voice                   string               `json:"voice,omitempty"`
	Instructions            string               `json:"instructions,omitempty"`
	InputAudioFormat        string               `json:"input_audio_format"`
	OutputAudioFormat       string               `json:"output_audio_format"`
	InputAudioTranscription *transcriptionParams `json:"input_audio_transcription,omitempty"`
	TurnDetection           *turnDetection       `json:"turn_detection,omitempty"`
}

type transcriptionParams struct {
	Model string `json:"model"`
}

type turnDetection struct {
	Type string `json:"type"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

// serverErrorDetail represents the nested error object in an OpenAI Realtime
// error event: {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *serverErrorDetail) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "unknown error"
	}
	if e.Code != "" {
		return fmt.Sprintf("openai: %s (%s)", msg, e.Code)
	}
	return "openai: " + msg
}

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta / response.audio_transcript.delta / response.text.delta
	Delta string `json:"delta,omitempty"`

	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	Error *serverErrorDetail `json:"error,omitempty"`
}

// buildSessionUpdate translates cfg into a session.update event.
func buildSessionUpdate(cfg live.Config) sessionUpdateMessage {
	params := sessionParams{
		Modalities:        []string{"text"},
		Voice:             cfg.Voice,
		Instructions:      cfg.Instructions,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		TurnDetection:     &turnDetection{Type: "server_vad"},
	}
	if cfg.WantsAudio() {
		params.Modalities = []string{"audio", "text"}
	}
	if cfg.InputTranscription {
		params.InputAudioTranscription = &transcriptionParams{Model: transcriptionModel}
	}
	return sessionUpdateMessage{Type: "session.update", Session: params}
}

// translate converts one server event into session events. Output
// transcripts of spoken responses are dropped unless requested. Audio deltas
// that cannot be decoded are logged on log and skipped.
func translate(evt *serverEvent, outputTranscript bool, log *slog.Logger) []live.Event {
	switch evt.Type {
	case "response.audio.delta":
		data, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil {
			log.Warn("openai: skipping undecodable audio", "err", err, "bytes", len(evt.Delta))
			return nil
		}
		if len(data) == 0 {
			return nil
		}
		return []live.Event{live.AudioEvent(data, SampleRate, live.PCMMIMEType(SampleRate))}

	case "response.audio_transcript.delta":
		if evt.Delta == "" || !outputTranscript {
			return nil
		}
		return []live.Event{live.TranscriptEvent(live.SourceOutput, evt.Delta)}

	case "response.text.delta":
		if evt.Delta == "" {
			return nil
		}
		return []live.Event{live.TranscriptEvent(live.SourceOutput, evt.Delta)}

	case "conversation.item.input_audio_transcription.completed":
		if evt.Transcript == "" {
			return nil
		}
		return []live.Event{live.TranscriptEvent(live.SourceInput, evt.Transcript)}

	case "input_audio_buffer.speech_started":
		return []live.Event{{Kind: live.EventInterrupted}}

	case "response.done":
		return []live.Event{{Kind: live.EventTurnComplete}}

	case "error":
		detail := evt.Error
		if detail == nil {
			detail = &serverErrorDetail{}
		}
		return []live.Event{live.ErrorEvent(detail)}
	}
	return nil
}

// ── conn ───────────────────────────────────────────────────────────────────────

type conn struct {
	ws               *websocket.Conn
	log              *slog.Logger
	outputTranscript bool

	// mu guards the resampler; SendAudio is normally called from one goroutine.
	mu sync.Mutex
	rs *audio.Resampler

	closing   atomic.Bool
	closeOnce sync.Once
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (c *conn) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	if c.closing.Load() {
		return errClosed
	}
	return c.ws.Write(ctx, websocket.MessageText, data)
}

func (c *conn) read(ctx context.Context) (*serverEvent, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		switch websocket.CloseStatus(err) {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			return nil, io.EOF
		}
		return nil, fmt.Errorf("openai: read: %w", err)
	}
	var evt serverEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		c.log.Debug("openai: skipping malformed event", "err", err, "bytes", len(data))
		return &serverEvent{}, nil
	}
	return &evt, nil
}

// awaitSessionUpdated reads until the server confirms the session
// configuration. session.created arrives first and is skipped.
func (c *conn) awaitSessionUpdated(ctx context.Context) error {
	for {
		evt, err := c.read(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return errors.New("openai: connection closed during setup")
			}
			return fmt.Errorf("openai: await session.updated: %w", err)
		}
		switch evt.Type {
		case "session.updated":
			return nil
		case "error":
			detail := evt.Error
			if detail == nil {
				detail = &serverErrorDetail{}
			}
			return fmt.Errorf("openai: session rejected: %w", detail)
		}
	}
}

// pcm24k converts frame to 24 kHz mono PCM16.
func (c *conn) pcm24k(frame audio.AudioFrame) ([]byte, error) {
	channels := max(frame.Channels, 1)
	if frame.SampleRate == SampleRate && channels == 1 {
		return frame.Data, nil
	}
	samples, err := audio.DecodePCM16(frame.Data)
	if err != nil {
		return nil, err
	}
	samples = audio.DownmixToMono(samples, channels)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rs == nil || c.rs.SrcRate() != frame.SampleRate {
		rs, err := audio.NewResampler(frame.SampleRate, SampleRate)
		if err != nil {
			return nil, err
		}
		c.rs = rs
	}
	out, err := c.rs.Process(samples)
	if err != nil {
		return nil, err
	}
	return audio.EncodePCM16(out), nil
}

// SendAudio implements live.Conn.
func (c *conn) SendAudio(ctx context.Context, frame audio.AudioFrame) error {
	pcm, err := c.pcm24k(frame)
	if err != nil {
		return fmt.Errorf("openai: convert audio: %w", err)
	}
	if len(pcm) == 0 {
		return nil
	}
	return c.writeJSON(ctx, appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(pcm),
	})
}

// Receive implements live.Conn.
func (c *conn) Receive(ctx context.Context) ([]live.Event, error) {
	evt, err := c.read(ctx)
	if err != nil {
		return nil, err
	}
	return translate(evt, c.outputTranscript, c.log), nil
}

// Close implements live.Conn and returns at once. The close handshake runs in
// the background; the websocket library drops the socket when the peer does
// not answer within its handshake timeout. Idempotent.
func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		go func() { _ = c.ws.Close(websocket.StatusNormalClosure, "session closed") }()
	})
	return nil
}

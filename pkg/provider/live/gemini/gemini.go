// Package gemini implements the live.Provider interface for Google's Gemini Live API.
//
// It establishes a bidirectional WebSocket connection to the Gemini Live endpoint
// and exchanges JSON messages according to the BidiGenerateContent protocol.
// Audio is transmitted as base64-encoded PCM chunks; server content is
// translated into live.Event values.
package gemini

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
	"strings"
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
var errClosed = errors.New("gemini: connection closed")

const (
	// DefaultModel is the native-audio Live model used when none is configured.
	DefaultModel   = "gemini-2.5-flash-native-audio-preview-09-2025"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"
	servicePath    = "/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second
	setupTimeout      = 15 * time.Second

	// readLimit bounds a single server message; audio turns can be large.
	readLimit = 8 << 20
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the Gemini model used when live.Config.Model is empty.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithKeepalive sets the WebSocket ping interval. Zero disables pings.
func WithKeepalive(d time.Duration) Option {
	return func(p *Provider) { p.keepalive = d }
}

// WithLogger sets the provider logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.log = l }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements live.Provider for Google's Gemini Live API.
type Provider struct {
	apiKey    string
	model     string
	baseURL   string
	keepalive time.Duration
	log       *slog.Logger
}

// New creates a new Gemini Live Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:    apiKey,
		model:     DefaultModel,
		baseURL:   defaultBaseURL,
		keepalive: keepaliveInterval,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name implements live.Provider.
func (p *Provider) Name() string { return "gemini-live" }

// Dial connects, sends the setup message, and waits for setupComplete. The
// returned connection is ready for audio.
func (p *Provider) Dial(ctx context.Context, cfg live.Config) (live.Conn, error) {
	wsURL := p.baseURL + servicePath + "?key=" + url.QueryEscape(p.apiKey)

	ws, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: dial: %w", err)
	}
	ws.SetReadLimit(readLimit)

	connCtx, connCancel := context.WithCancel(context.Background())
	c := &conn{
		ws:         ws,
		inputRate:  cfg.InputSampleRate,
		ctx:        connCtx,
		cancel:     connCancel,
		log:        p.log,
		keepalive:  p.keepalive,
		pingFailed: make(chan error, 1),
	}
	if c.inputRate <= 0 {
		c.inputRate = audio.CaptureSampleRate
	}

	model := cfg.Model
	if model == "" {
		model = p.model
	}
	if err := c.writeJSON(ctx, buildSetup(model, cfg)); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("gemini: setup: %w", err)
	}

	setupCtx, cancel := context.WithTimeout(ctx, setupTimeout)
	defer cancel()
	if err := c.awaitSetupComplete(setupCtx); err != nil {
		_ = c.Close()
		return nil, err
	}

	if c.keepalive > 0 {
		go c.keepaliveLoop()
	}
	return c, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model                    string             `json:"model"`
	GenerationConfig         generationConfig   `json:"generationConfig"`
	SystemInstruction        *systemInstruction `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *struct{}          `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}          `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities,omitempty"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type systemInstruction struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []mediaChunk `json:"mediaChunks"`
}

type mediaChunk struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	GoAway        *json.RawMessage `json:"goAway,omitempty"`
	Error         *geminiError     `json:"error,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

func (e *geminiError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "unknown error"
	}
	if e.Status != "" {
		return fmt.Sprintf("gemini: %s (%s, code %d)", msg, e.Status, e.Code)
	}
	return "gemini: " + msg
}

type serverContent struct {
	ModelTurn           *modelTurn     `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type modelTurn struct {
	Parts []part `json:"parts"`
}

type transcription struct {
	Text string `json:"text"`
}

// buildSetup translates cfg into the BidiGenerateContent setup message.
func buildSetup(model string, cfg live.Config) setupMessage {
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}
	msg := setupMessage{Setup: setupConfig{Model: model}}

	for _, m := range cfg.ResponseModalities {
		msg.Setup.GenerationConfig.ResponseModalities = append(msg.Setup.GenerationConfig.ResponseModalities, string(m))
	}
	if cfg.Voice != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if cfg.Instructions != "" {
		msg.Setup.SystemInstruction = &systemInstruction{
			Parts: []part{{Text: cfg.Instructions}},
		}
	}
	if cfg.InputTranscription {
		msg.Setup.InputAudioTranscription = &struct{}{}
	}
	if cfg.OutputTranscription {
		msg.Setup.OutputAudioTranscription = &struct{}{}
	}
	return msg
}

// translate converts one server message into session events, preserving the
// order in which the message lists them. Inline audio that cannot be decoded
// is logged on log and skipped.
func translate(msg *serverMessage, log *slog.Logger) []live.Event {
	var events []live.Event
	if msg.Error != nil {
		events = append(events, live.ErrorEvent(msg.Error))
	}
	sc := msg.ServerContent
	if sc == nil {
		return events
	}

	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData != nil {
				rate, ok := live.ParseAudioMIME(p.InlineData.MIMEType)
				if !ok {
					log.Debug("gemini: skipping inline data", "mime_type", p.InlineData.MIMEType)
					continue
				}
				data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
				switch {
				case err != nil:
					log.Warn("gemini: skipping undecodable audio", "err", err, "bytes", len(p.InlineData.Data))
				case len(data) > 0:
					events = append(events, live.AudioEvent(data, rate, p.InlineData.MIMEType))
				}
			}
			if p.Text != "" {
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

// ── conn ───────────────────────────────────────────────────────────────────────

type conn struct {
	ws        *websocket.Conn
	inputRate int
	log       *slog.Logger
	keepalive time.Duration

	// pingFailed carries a keepalive failure to the next Receive.
	pingFailed chan error

	ctx       context.Context
	cancel    context.CancelFunc
	closing   atomic.Bool
	closeOnce sync.Once
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (c *conn) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}
	if c.closing.Load() {
		return errClosed
	}
	return c.ws.Write(ctx, websocket.MessageText, data)
}

func (c *conn) read(ctx context.Context) (*serverMessage, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		switch websocket.CloseStatus(err) {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			return nil, io.EOF
		}
		return nil, fmt.Errorf("gemini: read: %w", err)
	}
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.log.Debug("gemini: skipping malformed message", "err", err, "bytes", len(data))
		return &serverMessage{}, nil
	}
	return &msg, nil
}

// awaitSetupComplete reads until the server acknowledges the setup.
func (c *conn) awaitSetupComplete(ctx context.Context) error {
	for {
		msg, err := c.read(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return errors.New("gemini: connection closed during setup")
			}
			return fmt.Errorf("gemini: await setup: %w", err)
		}
		if msg.Error != nil {
			return fmt.Errorf("gemini: setup rejected: %w", msg.Error)
		}
		if msg.SetupComplete != nil {
			return nil
		}
	}
}

// SendAudio implements live.Conn.
func (c *conn) SendAudio(ctx context.Context, frame audio.AudioFrame) error {
	rate := frame.SampleRate
	if rate <= 0 {
		rate = c.inputRate
	}
	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []mediaChunk{
				{MIMEType: live.PCMMIMEType(rate), Data: base64.StdEncoding.EncodeToString(frame.Data)},
			},
		},
	}
	return c.writeJSON(ctx, msg)
}

// Receive implements live.Conn.
func (c *conn) Receive(ctx context.Context) ([]live.Event, error) {
	select {
	case err := <-c.pingFailed:
		return nil, err
	default:
	}
	msg, err := c.read(ctx)
	if err != nil {
		return nil, err
	}
	if msg.GoAway != nil {
		c.log.Info("gemini: server announced disconnect")
	}
	return translate(msg, c.log), nil
}

// keepaliveLoop sends WebSocket pings to keep the Gemini Live connection alive.
func (c *conn) keepaliveLoop() {
	ticker := time.NewTicker(c.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(c.ctx, keepaliveTimeout)
			err := c.ws.Ping(pingCtx)
			cancel()
			if err != nil && c.ctx.Err() == nil {
				select {
				case c.pingFailed <- fmt.Errorf("gemini: keepalive: %w", err):
				default:
				}
				_ = c.ws.CloseNow()
				return
			}
		}
	}
}

// Close implements live.Conn and returns at once. The close handshake runs in
// the background; the websocket library drops the socket when the peer does
// not answer within its handshake timeout. Idempotent.
func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		c.cancel()
		go func() { _ = c.ws.Close(websocket.StatusNormalClosure, "session closed") }()
	})
	return nil
}

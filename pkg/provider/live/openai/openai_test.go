package openai_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/livewire/pkg/audio"
	"github.com/MrWong99/livewire/pkg/provider/live"
	"github.com/MrWong99/livewire/pkg/provider/live/openai"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startOpenAIServer launches a test WebSocket server. The handler receives the
// accepted conn. The server is automatically closed when the test finishes.
func startOpenAIServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		conn.SetReadLimit(1 << 22)
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readJSON reads one WebSocket text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Errorf("readJSON: %v", err)
		return
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Errorf("readJSON unmarshal: %v", err)
	}
}

// writeJSON marshals v and sends it as a text frame.
func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

// acceptSession plays the server side of the handshake: session.created,
// then session.updated once the client's session.update arrives.
func acceptSession(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	writeJSON(t, conn, map[string]any{"type": "session.created"})
	var update map[string]any
	readJSON(t, conn, &update)
	writeJSON(t, conn, map[string]any{"type": "session.updated"})
	return update
}

func newProvider(srv *httptest.Server) *openai.Provider {
	return openai.New("test-key", openai.WithBaseURL(wsURL(srv)))
}

func dial(t *testing.T, p *openai.Provider, cfg live.Config) live.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, err := p.Dial(ctx, cfg.WithDefaults())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// receive returns the next non-empty batch of events.
func receive(t *testing.T, conn live.Conn) []live.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		evs, err := conn.Receive(ctx)
		if err != nil {
			t.Fatalf("Receive: %v", err)
		}
		if len(evs) > 0 {
			return evs
		}
	}
}

// ── Dial ───────────────────────────────────────────────────────────────────────

func TestDial_HeadersAndModel(t *testing.T) {
	t.Parallel()

	type reqInfo struct {
		auth, beta, model string
	}
	got := make(chan reqInfo, 1)
	srv := startOpenAIServer(t, func(conn *websocket.Conn, r *http.Request) {
		got <- reqInfo{
			auth:  r.Header.Get("Authorization"),
			beta:  r.Header.Get("OpenAI-Beta"),
			model: r.URL.Query().Get("model"),
		}
		acceptSession(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := openai.New("sk-test", openai.WithBaseURL(wsURL(srv)), openai.WithModel("gpt-custom"))
	dial(t, p, live.Config{})

	select {
	case info := <-got:
		if info.auth != "Bearer sk-test" {
			t.Errorf("Authorization = %q", info.auth)
		}
		if info.beta != "realtime=v1" {
			t.Errorf("OpenAI-Beta = %q", info.beta)
		}
		if info.model != "gpt-custom" {
			t.Errorf("model = %q; want gpt-custom", info.model)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
}

func TestDial_SessionUpdate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		cfg            live.Config
		wantModalities []string
		wantInputTx    bool
	}{
		{
			name:           "audio with transcription",
			cfg:            live.Config{Voice: "alloy", Instructions: "Be brief.", InputTranscription: true},
			wantModalities: []string{"audio", "text"},
			wantInputTx:    true,
		},
		{
			name:           "text only",
			cfg:            live.Config{ResponseModalities: []live.Modality{live.ModalityText}},
			wantModalities: []string{"text"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			type update struct {
				Type    string `json:"type"`
				Session struct {
					Modalities              []string        `json:"modalities"`
					Voice                   string          `json:"voice"`
					Instructions            string          `json:"instructions"`
					InputAudioFormat        string          `json:"input_audio_format"`
					OutputAudioFormat       string          `json:"output_audio_format"`
					InputAudioTranscription *map[string]any `json:"input_audio_transcription"`
				} `json:"session"`
			}
			got := make(chan update, 1)
			srv := startOpenAIServer(t, func(conn *websocket.Conn, _ *http.Request) {
				writeJSON(t, conn, map[string]any{"type": "session.created"})
				var u update
				readJSON(t, conn, &u)
				got <- u
				writeJSON(t, conn, map[string]any{"type": "session.updated"})
				<-conn.CloseRead(context.Background()).Done()
			})

			dial(t, newProvider(srv), tt.cfg)

			u := <-got
			if u.Type != "session.update" {
				t.Errorf("type = %q; want session.update", u.Type)
			}
			if strings.Join(u.Session.Modalities, ",") != strings.Join(tt.wantModalities, ",") {
				t.Errorf("modalities = %v; want %v", u.Session.Modalities, tt.wantModalities)
			}
			if u.Session.Voice != tt.cfg.Voice || u.Session.Instructions != tt.cfg.Instructions {
				t.Errorf("voice/instructions = %q/%q", u.Session.Voice, u.Session.Instructions)
			}
			if u.Session.InputAudioFormat != "pcm16" || u.Session.OutputAudioFormat != "pcm16" {
				t.Errorf("formats = %q/%q; want pcm16", u.Session.InputAudioFormat, u.Session.OutputAudioFormat)
			}
			if (u.Session.InputAudioTranscription != nil) != tt.wantInputTx {
				t.Errorf("input_audio_transcription set = %v; want %v", u.Session.InputAudioTranscription != nil, tt.wantInputTx)
			}
		})
	}
}

func TestDial_SessionRejected(t *testing.T) {
	t.Parallel()

	srv := startOpenAIServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		writeJSON(t, conn, map[string]any{
			"type":  "error",
			"error": map[string]any{"type": "invalid_request_error", "code": "invalid_value", "message": "bad voice"},
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	_, err := newProvider(srv).Dial(context.Background(), live.Config{}.WithDefaults())
	if err == nil || !strings.Contains(err.Error(), "bad voice") {
		t.Fatalf("Dial error = %v; want rejection", err)
	}
}

func TestClose_DoesNotWaitForPeer(t *testing.T) {
	t.Parallel()

	// The server stops reading after the session update, so the close frame
	// is never answered.
	release := make(chan struct{})
	srv := startOpenAIServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSession(t, conn)
		<-release
	})
	t.Cleanup(func() { close(release) })

	conn := dial(t, newProvider(srv), live.Config{})
	start := time.Now()
	if err := conn.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if took := time.Since(start); took > 500*time.Millisecond {
		t.Errorf("Close took %v against a silent peer", took)
	}

	frame := audio.AudioFrame{Data: []byte{1, 2}, SampleRate: openai.SampleRate, Channels: 1}
	if err := conn.SendAudio(context.Background(), frame); err == nil {
		t.Error("SendAudio after Close should return an error")
	}
}

// ── SendAudio ──────────────────────────────────────────────────────────────────

func TestSendAudio_PassThroughAt24k(t *testing.T) {
	t.Parallel()

	type appendMsg struct {
		Type  string `json:"type"`
		Audio string `json:"audio"`
	}
	got := make(chan appendMsg, 1)
	srv := startOpenAIServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSession(t, conn)
		var m appendMsg
		readJSON(t, conn, &m)
		got <- m
		<-conn.CloseRead(context.Background()).Done()
	})

	conn := dial(t, newProvider(srv), live.Config{})
	pcm := []byte{0x10, 0x00, 0x20, 0x00}
	if err := conn.SendAudio(context.Background(), audio.AudioFrame{Data: pcm, SampleRate: 24000, Channels: 1}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	select {
	case m := <-got:
		if m.Type != "input_audio_buffer.append" {
			t.Errorf("type = %q", m.Type)
		}
		data, err := base64.StdEncoding.DecodeString(m.Audio)
		if err != nil {
			t.Fatalf("base64: %v", err)
		}
		if string(data) != string(pcm) {
			t.Errorf("audio = %v; want %v", data, pcm)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for append")
	}
}

func TestSendAudio_ResamplesCaptureRate(t *testing.T) {
	t.Parallel()

	total := make(chan int, 1)
	srv := startOpenAIServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSession(t, conn)
		samples := 0
		for {
			_, data, err := conn.Read(context.Background())
			if err != nil {
				break
			}
			var m struct {
				Audio string `json:"audio"`
			}
			if json.Unmarshal(data, &m) != nil {
				continue
			}
			pcm, _ := base64.StdEncoding.DecodeString(m.Audio)
			samples += len(pcm) / 2
		}
		total <- samples
	})

	conn := dial(t, newProvider(srv), live.Config{})
	block := make([]float32, 1600)
	for i := range block {
		block[i] = 0.25
	}
	for range 10 {
		frame, err := audio.EncodeFrame(block, audio.CaptureSampleRate, 0)
		if err != nil {
			t.Fatalf("EncodeFrame: %v", err)
		}
		if err := conn.SendAudio(context.Background(), frame); err != nil {
			t.Fatalf("SendAudio: %v", err)
		}
	}
	_ = conn.Close()

	select {
	case n := <-total:
		// 16000 input samples become at most 24000, minus filter latency.
		if n < 18000 || n > 24000 {
			t.Errorf("server received %d samples; want about 24000", n)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for server totals")
	}
}

// ── Receive ────────────────────────────────────────────────────────────────────

func TestReceive_Events(t *testing.T) {
	t.Parallel()

	pcm := []byte{1, 0, 2, 0}
	srv := startOpenAIServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSession(t, conn)
		for _, ev := range []map[string]any{
			{"type": "input_audio_buffer.speech_started"},
			{"type": "conversation.item.input_audio_transcription.completed", "transcript": "hello model"},
			{"type": "response.audio.delta", "delta": base64.StdEncoding.EncodeToString(pcm)},
			{"type": "response.audio_transcript.delta", "delta": "hi"},
			{"type": "response.done"},
		} {
			writeJSON(t, conn, ev)
		}
		<-conn.CloseRead(context.Background()).Done()
	})

	conn := dial(t, newProvider(srv), live.Config{InputTranscription: true, OutputTranscription: true})

	want := []live.EventKind{live.EventInterrupted, live.EventTranscript, live.EventAudio, live.EventTranscript, live.EventTurnComplete}
	var got []live.Event
	for len(got) < len(want) {
		got = append(got, receive(t, conn)...)
	}
	for i, k := range want {
		if got[i].Kind != k {
			t.Errorf("event %d kind = %v; want %v", i, got[i].Kind, k)
		}
	}
	if got[1].Source != live.SourceInput || got[1].Text != "hello model" {
		t.Errorf("input transcript = %+v", got[1])
	}
	if string(got[2].Audio) != string(pcm) || got[2].SampleRate != openai.SampleRate {
		t.Errorf("audio event = %+v", got[2])
	}
	if got[3].Source != live.SourceOutput || got[3].Text != "hi" {
		t.Errorf("output transcript = %+v", got[3])
	}
}

func TestReceive_OutputTranscriptDroppedUnlessRequested(t *testing.T) {
	t.Parallel()

	srv := startOpenAIServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSession(t, conn)
		writeJSON(t, conn, map[string]any{"type": "response.audio_transcript.delta", "delta": "ignored"})
		writeJSON(t, conn, map[string]any{"type": "response.done"})
		<-conn.CloseRead(context.Background()).Done()
	})

	evs := receive(t, dial(t, newProvider(srv), live.Config{}))
	if len(evs) != 1 || evs[0].Kind != live.EventTurnComplete {
		t.Fatalf("events = %+v; want only turn_complete", evs)
	}
}

func TestReceive_ServerError(t *testing.T) {
	t.Parallel()

	srv := startOpenAIServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSession(t, conn)
		writeJSON(t, conn, map[string]any{"type": "error", "error": map[string]any{"message": "rate limited"}})
		<-conn.CloseRead(context.Background()).Done()
	})

	evs := receive(t, dial(t, newProvider(srv), live.Config{}))
	if evs[0].Kind != live.EventError || evs[0].Err == nil || !strings.Contains(evs[0].Err.Error(), "rate limited") {
		t.Fatalf("event = %+v; want error event", evs[0])
	}
}

func TestReceive_NormalCloseIsEOF(t *testing.T) {
	t.Parallel()

	srv := startOpenAIServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSession(t, conn)
		conn.Close(websocket.StatusNormalClosure, "bye")
	})

	conn := dial(t, newProvider(srv), live.Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		_, err := conn.Receive(ctx)
		if err == nil {
			continue
		}
		if !errors.Is(err, io.EOF) {
			t.Fatalf("Receive error = %v; want io.EOF", err)
		}
		return
	}
}

package genai

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/gorilla/websocket"
	genaisdk "google.golang.org/genai"

	"github.com/MrWong99/livewire/pkg/provider/live"
)

func TestBuildConnectConfig(t *testing.T) {
	t.Parallel()

	cfg := live.Config{
		Voice:               "Puck",
		Instructions:        "Answer in German.",
		InputTranscription:  true,
		OutputTranscription: false,
	}.WithDefaults()

	got := buildConnectConfig(cfg)
	if len(got.ResponseModalities) != 1 || got.ResponseModalities[0] != genaisdk.ModalityAudio {
		t.Errorf("ResponseModalities = %v; want [AUDIO]", got.ResponseModalities)
	}
	if got.SpeechConfig == nil || got.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName != "Puck" {
		t.Errorf("SpeechConfig = %+v", got.SpeechConfig)
	}
	if got.SystemInstruction == nil || got.SystemInstruction.Parts[0].Text != "Answer in German." {
		t.Errorf("SystemInstruction = %+v", got.SystemInstruction)
	}
	if got.InputAudioTranscription == nil {
		t.Error("InputAudioTranscription should be set")
	}
	if got.OutputAudioTranscription != nil {
		t.Error("OutputAudioTranscription should be nil")
	}
}

func TestBuildConnectConfig_Minimal(t *testing.T) {
	t.Parallel()

	got := buildConnectConfig(live.Config{ResponseModalities: []live.Modality{live.ModalityText}})
	if got.ResponseModalities[0] != genaisdk.ModalityText {
		t.Errorf("modality = %v; want TEXT", got.ResponseModalities[0])
	}
	if got.SpeechConfig != nil || got.SystemInstruction != nil {
		t.Errorf("unexpected optional fields: %+v", got)
	}
}

func TestTranslate(t *testing.T) {
	t.Parallel()

	pcm := []byte{1, 0, 2, 0}
	tests := []struct {
		name string
		msg  *genaisdk.LiveServerMessage
		want []live.EventKind
	}{
		{name: "nil message", msg: nil, want: nil},
		{name: "setup complete only", msg: &genaisdk.LiveServerMessage{SetupComplete: &genaisdk.LiveServerSetupComplete{}}, want: nil},
		{
			name: "audio and text parts",
			msg: &genaisdk.LiveServerMessage{ServerContent: &genaisdk.LiveServerContent{
				ModelTurn: &genaisdk.Content{Parts: []*genaisdk.Part{
					{InlineData: &genaisdk.Blob{MIMEType: "audio/pcm;rate=24000", Data: pcm}},
					{InlineData: &genaisdk.Blob{MIMEType: "image/jpeg", Data: pcm}},
					{Text: "internal", Thought: true},
					{Text: "spoken"},
					nil,
				}},
			}},
			want: []live.EventKind{live.EventAudio, live.EventTranscript},
		},
		{
			name: "transcriptions then flags",
			msg: &genaisdk.LiveServerMessage{ServerContent: &genaisdk.LiveServerContent{
				InputTranscription:  &genaisdk.Transcription{Text: "user"},
				OutputTranscription: &genaisdk.Transcription{Text: "model"},
				Interrupted:         true,
				TurnComplete:        true,
			}},
			want: []live.EventKind{live.EventTranscript, live.EventTranscript, live.EventInterrupted, live.EventTurnComplete},
		},
		{
			name: "empty transcription skipped",
			msg: &genaisdk.LiveServerMessage{ServerContent: &genaisdk.LiveServerContent{
				InputTranscription: &genaisdk.Transcription{},
			}},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := translate(tt.msg)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d events %+v; want %d", len(got), got, len(tt.want))
			}
			for i, k := range tt.want {
				if got[i].Kind != k {
					t.Errorf("event %d kind = %v; want %v", i, got[i].Kind, k)
				}
			}
		})
	}
}

func TestTranslate_AudioFields(t *testing.T) {
	t.Parallel()

	pcm := []byte{9, 0}
	evs := translate(&genaisdk.LiveServerMessage{ServerContent: &genaisdk.LiveServerContent{
		ModelTurn: &genaisdk.Content{Parts: []*genaisdk.Part{
			{InlineData: &genaisdk.Blob{MIMEType: "audio/pcm", Data: pcm}},
		}},
		InputTranscription: &genaisdk.Transcription{Text: "hi"},
	}})
	if evs[0].SampleRate != live.DefaultOutputSampleRate || string(evs[0].Audio) != string(pcm) {
		t.Errorf("audio event = %+v", evs[0])
	}
	if evs[1].Source != live.SourceInput || evs[1].Text != "hi" {
		t.Errorf("transcript event = %+v", evs[1])
	}
}

func TestNormalizeErr(t *testing.T) {
	t.Parallel()

	other := errors.New("boom")
	tests := []struct {
		name    string
		err     error
		wantEOF bool
	}{
		{"normal closure", &websocket.CloseError{Code: websocket.CloseNormalClosure}, true},
		{"going away wrapped", fmt.Errorf("read: %w", &websocket.CloseError{Code: websocket.CloseGoingAway}), true},
		{"abnormal closure", &websocket.CloseError{Code: websocket.CloseAbnormalClosure}, false},
		{"other", other, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := normalizeErr(tt.err)
			if errors.Is(got, io.EOF) != tt.wantEOF {
				t.Errorf("normalizeErr(%v) = %v; wantEOF %v", tt.err, got, tt.wantEOF)
			}
		})
	}
}

func TestProvider_Name(t *testing.T) {
	t.Parallel()
	if got := New("key").Name(); got != "gemini-sdk" {
		t.Errorf("Name() = %q", got)
	}
}

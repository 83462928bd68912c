package google

import (
	"context"
	"errors"
	"testing"

	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/googleapis/gax-go/v2"

	"ai-call-assist-service/internal/service/classify"
)

type fakeRecognizer struct {
	req    *speechpb.RecognizeRequest
	resp   *speechpb.RecognizeResponse
	err    error
	closed bool
}

func (f *fakeRecognizer) Recognize(ctx context.Context, req *speechpb.RecognizeRequest, opts ...gax.CallOption) (*speechpb.RecognizeResponse, error) {
	f.req = req
	return f.resp, f.err
}

func (f *fakeRecognizer) Close() error {
	f.closed = true
	return nil
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.LanguageCode != "en-US" {
		t.Errorf("expected default language 'en-US', got %s", cfg.LanguageCode)
	}
	if cfg.SampleRateHz != 8000 {
		t.Errorf("expected default sample rate 8000, got %d", cfg.SampleRateHz)
	}
	if cfg.AudioEncoding != "LINEAR16" {
		t.Errorf("expected default encoding 'LINEAR16', got %s", cfg.AudioEncoding)
	}
}

func TestParseAudioEncoding(t *testing.T) {
	tests := []struct {
		input    string
		expected speechpb.RecognitionConfig_AudioEncoding
	}{
		{"LINEAR16", speechpb.RecognitionConfig_LINEAR16},
		{"MULAW", speechpb.RecognitionConfig_MULAW},
		{"FLAC", speechpb.RecognitionConfig_FLAC},
		{"OGG_OPUS", speechpb.RecognitionConfig_OGG_OPUS},
		{"ENCODING_UNSPECIFIED", speechpb.RecognitionConfig_LINEAR16},
		{"linear16", speechpb.RecognitionConfig_LINEAR16},
		{"", speechpb.RecognitionConfig_LINEAR16},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseAudioEncoding(tt.input)
			if got != tt.expected {
				t.Errorf("parseAudioEncoding(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestTranscribe_JoinsResults(t *testing.T) {
	fake := &fakeRecognizer{resp: &speechpb.RecognizeResponse{
		Results: []*speechpb.SpeechRecognitionResult{
			{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: " the price "}, {Transcript: "ignored"}}},
			{},
			{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "is too high"}}},
		},
	}}
	cfg := DefaultConfig()
	cfg.AudioEncoding = "MULAW"
	tr := &Transcriber{client: fake, cfg: cfg}

	got, err := tr.Transcribe(context.Background(), classify.TranscribeRequest{
		SessionID: "S1",
		Trailing:  "hello\n\nhow much is it",
		Audio:     []byte{1, 2, 3},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "the price is too high" {
		t.Errorf("unexpected transcript %q", got)
	}

	rc := fake.req.GetConfig()
	if rc.GetEncoding() != speechpb.RecognitionConfig_MULAW {
		t.Errorf("expected MULAW encoding, got %v", rc.GetEncoding())
	}
	if got := fake.req.GetAudio().GetContent(); len(got) != 3 {
		t.Errorf("expected audio content to be forwarded, got %v", got)
	}
	hints := rc.GetSpeechContexts()[0].GetPhrases()
	if len(hints) != 2 || hints[0] != "how much is it" || hints[1] != "hello" {
		t.Errorf("unexpected hint phrases %v", hints)
	}
}

func TestTranscribe_EmptyAudioSkipsCall(t *testing.T) {
	fake := &fakeRecognizer{}
	tr := &Transcriber{client: fake, cfg: DefaultConfig()}

	got, err := tr.Transcribe(context.Background(), classify.TranscribeRequest{})
	if err != nil || got != "" {
		t.Errorf("expected empty result, got %q %v", got, err)
	}
	if fake.req != nil {
		t.Error("recognizer should not be called for empty audio")
	}
}

func TestTranscribe_Error(t *testing.T) {
	fake := &fakeRecognizer{err: errors.New("unavailable")}
	tr := &Transcriber{client: fake, cfg: DefaultConfig()}

	if _, err := tr.Transcribe(context.Background(), classify.TranscribeRequest{Audio: []byte{1}}); err == nil {
		t.Error("expected error from recognizer")
	}
}

func TestHintPhrases(t *testing.T) {
	if got := hintPhrases("a\nb\nc", 2); len(got) != 2 || got[0] != "c" || got[1] != "b" {
		t.Errorf("unexpected hints %v", got)
	}
	if got := hintPhrases("a", 0); got != nil {
		t.Errorf("expected nil hints when disabled, got %v", got)
	}
	if got := hintPhrases("  ", 3); got != nil {
		t.Errorf("expected nil hints for blank trailing, got %v", got)
	}
}

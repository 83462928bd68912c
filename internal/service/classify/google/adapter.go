// Package google provides a Google Cloud Speech-to-Text transcriber.
package google

import (
	"context"
	"fmt"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/googleapis/gax-go/v2"

	"ai-call-assist-service/internal/service/classify"
)

// Config holds recognition settings.
type Config struct {
	LanguageCode  string
	SampleRateHz  int32
	AudioEncoding string
	// MaxHintPhrases caps how many trailing transcript phrases are sent as
	// speech context for continuity across chunks.
	MaxHintPhrases int
}

// DefaultConfig returns telephony defaults (8kHz LINEAR16).
func DefaultConfig() Config {
	return Config{
		LanguageCode:   "en-US",
		SampleRateHz:   8000,
		AudioEncoding:  "LINEAR16",
		MaxHintPhrases: 5,
	}
}

// recognizer is the subset of *speech.Client used by the transcriber.
type recognizer interface {
	Recognize(ctx context.Context, req *speechpb.RecognizeRequest, opts ...gax.CallOption) (*speechpb.RecognizeResponse, error)
	Close() error
}

// Transcriber implements classify.Transcriber using synchronous recognition of
// each chunk.
type Transcriber struct {
	client recognizer
	cfg    Config
}

// New creates a Google transcriber.
// Requires GOOGLE_APPLICATION_CREDENTIALS environment variable to be set.
func New(ctx context.Context, cfg Config) (*Transcriber, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("google speech client: %w", err)
	}
	return &Transcriber{client: c, cfg: cfg}, nil
}

// Transcribe recognises one audio chunk and returns the best alternative of
// every result joined by spaces.
func (t *Transcriber) Transcribe(ctx context.Context, req classify.TranscribeRequest) (string, error) {
	if len(req.Audio) == 0 {
		return "", nil
	}

	resp, err := t.client.Recognize(ctx, t.buildRequest(req))
	if err != nil {
		return "", err
	}

	parts := make([]string, 0, len(resp.GetResults()))
	for _, r := range resp.GetResults() {
		alts := r.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		if text := strings.TrimSpace(alts[0].GetTranscript()); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

// Close releases the underlying client.
func (t *Transcriber) Close() error {
	return t.client.Close()
}

func (t *Transcriber) buildRequest(req classify.TranscribeRequest) *speechpb.RecognizeRequest {
	rc := &speechpb.RecognitionConfig{
		Encoding:        parseAudioEncoding(t.cfg.AudioEncoding),
		SampleRateHertz: t.cfg.SampleRateHz,
		LanguageCode:    t.cfg.LanguageCode,
	}
	if hints := hintPhrases(req.Trailing, t.cfg.MaxHintPhrases); len(hints) > 0 {
		rc.SpeechContexts = []*speechpb.SpeechContext{{Phrases: hints}}
	}
	return &speechpb.RecognizeRequest{
		Config: rc,
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: req.Audio},
		},
	}
}

// hintPhrases returns up to limit of the newest trailing lines, newest first.
func hintPhrases(trailing string, limit int) []string {
	if limit <= 0 || strings.TrimSpace(trailing) == "" {
		return nil
	}
	lines := strings.Split(trailing, "\n")
	out := make([]string, 0, limit)
	for i := len(lines) - 1; i >= 0 && len(out) < limit; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			out = append(out, l)
		}
	}
	return out
}

// parseAudioEncoding converts an encoding name to the protobuf enum.
// Unknown names fall back to LINEAR16.
func parseAudioEncoding(name string) speechpb.RecognitionConfig_AudioEncoding {
	if v, ok := speechpb.RecognitionConfig_AudioEncoding_value[name]; ok && v != 0 {
		return speechpb.RecognitionConfig_AudioEncoding(v)
	}
	return speechpb.RecognitionConfig_LINEAR16
}

var _ classify.Transcriber = (*Transcriber)(nil)

// Package session holds the rolling per-call state used by the assistance pipeline.
//
// A Context is owned by exactly one session goroutine. It is not safe for
// concurrent use; callers outside the owning goroutine must work from a Snapshot.
package session

import (
	"strings"
	"time"

	"ai-call-assist-service/internal/models"
)

// DegradeThreshold is the number of consecutive transcription failures after
// which a session is flagged as degraded.
const DegradeThreshold = 3

// Utterance is one transcribed fragment of the call.
type Utterance struct {
	Sequence uint64    `json:"sequence"`
	Text     string    `json:"text"`
	At       time.Time `json:"at"`
}

// SentimentSample is a scored point of the sentiment trend.
type SentimentSample struct {
	Sequence uint64
	Pass     int
	Score    float64
	At       time.Time
}

// IntentSample is a classified intent label.
type IntentSample struct {
	Sequence uint64
	Pass     int
	Label    string
	At       time.Time
}

// Context is the mutable rolling state of one call session.
type Context struct {
	SessionID string
	CreatedAt time.Time

	Transcript []Utterance
	Sentiments []SentimentSample
	Intents    []IntentSample
	Stage      models.Stage
	FiredRules map[string]time.Time

	// LastSequence is the sequence number of the most recently processed chunk.
	LastSequence uint64
	// Passes counts processed chunks, including ones whose classification failed.
	Passes int

	ConsecutiveTranscribeFailures int
	Degraded                      bool

	Gaps []models.Gap
}

// New returns an empty context in the Opening stage.
func New(sessionID string, createdAt time.Time) *Context {
	return &Context{
		SessionID:  sessionID,
		CreatedAt:  createdAt,
		Stage:      models.StageOpening,
		FiredRules: make(map[string]time.Time),
	}
}

// BeginPass marks the start of processing for the chunk with the given sequence.
func (c *Context) BeginPass(seq uint64) {
	c.Passes++
	c.LastSequence = seq
}

// RecordGaps appends skipped sequence ranges.
func (c *Context) RecordGaps(gaps ...models.Gap) {
	c.Gaps = append(c.Gaps, gaps...)
}

// AppendUtterance adds a transcript fragment. Empty text is ignored.
func (c *Context) AppendUtterance(seq uint64, text string, at time.Time) {
	if strings.TrimSpace(text) == "" {
		return
	}
	c.Transcript = append(c.Transcript, Utterance{Sequence: seq, Text: text, At: at})
}

// AppendSentiment adds a sentiment sample for the current pass.
func (c *Context) AppendSentiment(seq uint64, score float64, at time.Time) {
	c.Sentiments = append(c.Sentiments, SentimentSample{Sequence: seq, Pass: c.Passes, Score: score, At: at})
}

// AppendIntent adds an intent sample for the current pass.
func (c *Context) AppendIntent(seq uint64, label string, at time.Time) {
	c.Intents = append(c.Intents, IntentSample{Sequence: seq, Pass: c.Passes, Label: label, At: at})
}

// RecordTranscriptionFailure counts a failed transcription and reports whether
// this failure just pushed the session into the degraded state.
func (c *Context) RecordTranscriptionFailure() (becameDegraded bool) {
	c.ConsecutiveTranscribeFailures++
	if c.ConsecutiveTranscribeFailures >= DegradeThreshold && !c.Degraded {
		c.Degraded = true
		return true
	}
	return false
}

// RecordTranscriptionSuccess resets the failure streak and reports whether the
// session just recovered from the degraded state.
func (c *Context) RecordTranscriptionSuccess() (recovered bool) {
	c.ConsecutiveTranscribeFailures = 0
	if c.Degraded {
		c.Degraded = false
		return true
	}
	return false
}

// MarkFired records that a rule fired at the given time.
func (c *Context) MarkFired(ruleID string, at time.Time) {
	c.FiredRules[ruleID] = at
}

// TranscriptText returns the cumulative transcript joined by single spaces.
func (c *Context) TranscriptText() string {
	return joinTexts(c.Transcript, len(c.Transcript), " ")
}

// Window returns the last n utterances joined by newlines, oldest first.
// The final line is always the newest fragment.
func (c *Context) Window(n int) string {
	return joinTexts(c.Transcript, n, "\n")
}

func joinTexts(us []Utterance, n int, sep string) string {
	if n <= 0 || len(us) == 0 {
		return ""
	}
	if n > len(us) {
		n = len(us)
	}
	parts := make([]string, 0, n)
	for _, u := range us[len(us)-n:] {
		parts = append(parts, u.Text)
	}
	return strings.Join(parts, sep)
}

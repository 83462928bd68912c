// Package mock provides deterministic classifier adapters for local runs and
// tests without model backends.
//
// The Transcriber passes UTF-8 text payloads straight through, so a client can
// drive a session by sending text chunks. Binary payloads are answered from a
// scripted call. The Lexicon scores sentiment and labels intent from keyword
// tables applied to the newest transcript line.
package mock

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"ai-call-assist-service/internal/service/classify"
)

// DefaultScript is the simulated call used for binary audio payloads.
var DefaultScript = []string{
	"你好，我想了解一下你们的会员套餐",
	"这个套餐都包含哪些功能",
	"这个价格有点贵",
	"别家便宜很多，我不太确定",
	"如果有优惠的话可以考虑",
	"好的，那我现在就下单吧",
}

// Transcriber implements classify.Transcriber.
type Transcriber struct {
	// Latency simulates model processing time. The call honours ctx while waiting.
	Latency time.Duration
	Script  []string

	mu       sync.Mutex
	position map[string]int
}

// NewTranscriber creates a transcriber that cycles through DefaultScript for
// binary payloads.
func NewTranscriber() *Transcriber {
	return &Transcriber{Script: DefaultScript}
}

// Transcribe returns the payload text or the next scripted line for the session.
func (t *Transcriber) Transcribe(ctx context.Context, req classify.TranscribeRequest) (string, error) {
	if err := wait(ctx, t.Latency); err != nil {
		return "", err
	}
	if isText(req.Audio) {
		return strings.TrimSpace(string(req.Audio)), nil
	}
	if len(t.Script) == 0 {
		return "", nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.position == nil {
		t.position = make(map[string]int)
	}
	idx := t.position[req.SessionID] % len(t.Script)
	t.position[req.SessionID]++
	return t.Script[idx], nil
}

// isText reports whether the payload looks like a UTF-8 text line rather than PCM.
func isText(b []byte) bool {
	if len(b) == 0 || !utf8.Valid(b) {
		return false
	}
	for _, r := range string(b) {
		if r == '\n' || r == '\t' || r == '\r' {
			continue
		}
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type sentimentCue struct {
	phrase string
	weight float64
}

type intentCue struct {
	label   string
	phrases []string
}

// neutralSentiment is the score of a line with no sentiment cues.
const neutralSentiment = 0.6

var sentimentCues = []sentimentCue{
	{"贵", -0.35},
	{"不太确定", -0.15},
	{"太差", -0.45},
	{"投诉", -0.45},
	{"生气", -0.4},
	{"骗", -0.4},
	{"expensive", -0.35},
	{"too much", -0.3},
	{"not sure", -0.15},
	{"angry", -0.4},
	{"terrible", -0.45},
	{"complaint", -0.45},
	{"cancel", -0.3},
	{"好的", 0.2},
	{"不错", 0.2},
	{"优惠", 0.1},
	{"谢谢", 0.15},
	{"great", 0.25},
	{"thanks", 0.15},
	{"sounds good", 0.2},
	{"perfect", 0.3},
}

// intentCues are checked in order; the first match wins.
var intentCues = []intentCue{
	{"buy_signal", []string{"下单", "购买", "我要了", "怎么付款", "签约", "sign me up", "i'll take it", "let's do it", "buy it", "place the order"}},
	{"price_objection", []string{"贵", "价格", "便宜", "expensive", "price", "too much", "cheaper", "discount"}},
	{"trust_objection", []string{"骗", "靠谱", "不太确定", "scam", "trust", "not sure", "reviews"}},
	{"product_interest", []string{"功能", "包含", "介绍", "了解", "feature", "tell me more", "how does", "interested", "include"}},
	{"greeting", []string{"你好", "您好", "喂", "hello", "hi ", "good morning"}},
}

// Lexicon implements classify.SentimentAnalyzer and classify.IntentClassifier.
type Lexicon struct {
	Latency time.Duration
}

// NewLexicon creates a keyword-based sentiment and intent classifier.
func NewLexicon() *Lexicon {
	return &Lexicon{}
}

// AnalyzeSentiment scores the newest line of transcript.
func (l *Lexicon) AnalyzeSentiment(ctx context.Context, transcript string) (float64, error) {
	if err := wait(ctx, l.Latency); err != nil {
		return 0, err
	}
	line := newestLine(transcript)
	score := neutralSentiment
	for _, cue := range sentimentCues {
		if strings.Contains(line, cue.phrase) {
			score += cue.weight
		}
	}
	score = math.Max(0, math.Min(1, score))
	return math.Round(score*100) / 100, nil
}

// ClassifyIntent labels the newest line of transcript. An empty label means
// no intent could be identified.
func (l *Lexicon) ClassifyIntent(ctx context.Context, transcript string) (string, error) {
	if err := wait(ctx, l.Latency); err != nil {
		return "", err
	}
	line := newestLine(transcript) + " "
	for _, cue := range intentCues {
		for _, p := range cue.phrases {
			if strings.Contains(line, p) {
				return cue.label, nil
			}
		}
	}
	return "", nil
}

func newestLine(transcript string) string {
	transcript = strings.TrimSpace(transcript)
	if i := strings.LastIndexByte(transcript, '\n'); i >= 0 {
		transcript = transcript[i+1:]
	}
	return strings.ToLower(transcript)
}

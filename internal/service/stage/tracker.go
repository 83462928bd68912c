// Package stage infers the conversation phase of a call.
//
// Transitions:
//
//	OPENING ──non-greeting intent──→ DISCOVERY ──objection──→ OBJECTION
//	                                    │  ↑                      │
//	                                    │  └──N quiet chunks──────┤
//	                                    │                         │
//	                                    └──closing signal──→ CLOSING ←──closing signal
//	                                                          │
//	                                            objection ────┘ (reopen → OBJECTION)
//
//	* ──explicit end──→ ENDED (terminal)
//
// Next is a pure function of the current stage and a Signal derived from a
// session snapshot. Absence of evidence never moves the stage, except that
// quiet chunks count toward resolving an objection.
package stage

import (
	"strings"

	"ai-call-assist-service/internal/models"
	"ai-call-assist-service/internal/service/session"
)

// Config holds the vocabularies and thresholds driving transitions.
type Config struct {
	GreetingIntents  []string
	ObjectionIntents []string
	ClosingIntents   []string
	// ClosingPhrases are affirmative buying phrases matched against the newest
	// transcript fragment, case-insensitively.
	ClosingPhrases []string
	// ObjectionClearChunks is how many processed chunks without an objection
	// intent resolve the objection.
	ObjectionClearChunks int
}

// DefaultConfig returns the default vocabularies.
func DefaultConfig() Config {
	return Config{
		GreetingIntents:  []string{"greeting", "ack", "acknowledgement", "small_talk"},
		ObjectionIntents: []string{"price_objection", "trust_objection", "timing_objection", "competitor_objection", "objection"},
		ClosingIntents:   []string{"buy_signal", "closing_opportunity", "purchase_intent", "agreement"},
		ClosingPhrases: []string{
			"下单", "我要了", "就买", "怎么付款", "签合同",
			"sign me up", "i'll take it", "let's do it", "where do i sign", "send me the contract",
		},
		ObjectionClearChunks: 3,
	}
}

// Signal is the evidence available for one transition decision.
type Signal struct {
	// Intent is the intent classified in the current pass; empty if absent.
	Intent string
	// ClosingLanguage is true when the newest fragment contains buying language.
	ClosingLanguage bool
	// QuietPasses is the number of processed chunks since the last objection
	// intent, or -1 if there has never been one.
	QuietPasses int
}

// Tracker applies transitions to session contexts.
type Tracker struct {
	cfg       Config
	greeting  map[string]bool
	objection map[string]bool
	closing   map[string]bool
	phrases   []string
}

// New creates a tracker. A non-positive ObjectionClearChunks defaults to 3.
func New(cfg Config) *Tracker {
	if cfg.ObjectionClearChunks <= 0 {
		cfg.ObjectionClearChunks = 3
	}
	t := &Tracker{
		cfg:       cfg,
		greeting:  toSet(cfg.GreetingIntents),
		objection: toSet(cfg.ObjectionIntents),
		closing:   toSet(cfg.ClosingIntents),
	}
	for _, p := range cfg.ClosingPhrases {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			t.phrases = append(t.phrases, p)
		}
	}
	return t
}

// IsObjection reports whether label is an objection intent.
func (t *Tracker) IsObjection(label string) bool {
	return t.objection[label]
}

// SignalFrom derives the transition evidence from a snapshot.
func (t *Tracker) SignalFrom(snap session.Snapshot) Signal {
	sig := Signal{QuietPasses: -1}
	if intent, ok := snap.FreshIntent(); ok {
		sig.Intent = intent
	}
	if snap.LatestUtteranceFresh {
		sig.ClosingLanguage = t.hasClosingLanguage(snap.LatestUtterance)
	}
	if n, ok := snap.PassesSince(t.IsObjection); ok {
		sig.QuietPasses = n
	}
	return sig
}

// Next returns the stage following current given sig.
func (t *Tracker) Next(current models.Stage, sig Signal) models.Stage {
	switch current {
	case models.StageEnded:
		return current
	case models.StageOpening:
		if sig.Intent == "" || t.greeting[sig.Intent] {
			return current
		}
		// The first substantive turn may already be an objection or a buy signal.
		return t.Next(models.StageDiscovery, sig)
	case models.StageDiscovery:
		if t.objection[sig.Intent] {
			return models.StageObjection
		}
		if t.isClosing(sig) {
			return models.StageClosing
		}
	case models.StageObjection:
		if t.objection[sig.Intent] {
			return current
		}
		if t.isClosing(sig) {
			return models.StageClosing
		}
		if sig.QuietPasses >= t.cfg.ObjectionClearChunks {
			return models.StageDiscovery
		}
	case models.StageClosing:
		if t.objection[sig.Intent] {
			return models.StageObjection
		}
	}
	return current
}

// Advance applies one transition to c and returns the previous and new stage.
func (t *Tracker) Advance(c *session.Context) (from, to models.Stage) {
	from = c.Stage
	to = t.Next(from, t.SignalFrom(c.Snapshot()))
	c.Stage = to
	return from, to
}

// End moves c to the terminal Ended stage.
func (t *Tracker) End(c *session.Context) {
	c.Stage = models.StageEnded
}

func (t *Tracker) isClosing(sig Signal) bool {
	return t.closing[sig.Intent] || sig.ClosingLanguage
}

func (t *Tracker) hasClosingLanguage(text string) bool {
	text = strings.ToLower(text)
	for _, p := range t.phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[strings.TrimSpace(it)] = true
	}
	return set
}

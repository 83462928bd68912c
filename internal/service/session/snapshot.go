package session

import "ai-call-assist-service/internal/models"

// Snapshot is an immutable copy of a Context taken at one instant. Rule
// predicates and stage transitions read snapshots so that identical state
// always yields identical decisions.
type Snapshot struct {
	SessionID    string
	Stage        models.Stage
	Passes       int
	LastSequence uint64
	Degraded     bool

	Transcript string
	// LatestUtterance is the newest transcript fragment, empty if none yet.
	LatestUtterance      string
	LatestUtteranceFresh bool // LatestUtterance was transcribed in the current pass

	Sentiments []SentimentSample
	Intents    []IntentSample
}

// Snapshot copies the current state.
func (c *Context) Snapshot() Snapshot {
	s := Snapshot{
		SessionID:    c.SessionID,
		Stage:        c.Stage,
		Passes:       c.Passes,
		LastSequence: c.LastSequence,
		Degraded:     c.Degraded,
		Transcript:   c.TranscriptText(),
		Sentiments:   append([]SentimentSample(nil), c.Sentiments...),
		Intents:      append([]IntentSample(nil), c.Intents...),
	}
	if n := len(c.Transcript); n > 0 {
		last := c.Transcript[n-1]
		s.LatestUtterance = last.Text
		s.LatestUtteranceFresh = last.Sequence == c.LastSequence && c.Passes > 0
	}
	return s
}

// LatestSentiment returns the last known sentiment sample.
func (s Snapshot) LatestSentiment() (SentimentSample, bool) {
	if len(s.Sentiments) == 0 {
		return SentimentSample{}, false
	}
	return s.Sentiments[len(s.Sentiments)-1], true
}

// FreshSentiment returns the sentiment produced by the current pass, if any.
func (s Snapshot) FreshSentiment() (float64, bool) {
	latest, ok := s.LatestSentiment()
	if !ok || latest.Pass != s.Passes {
		return 0, false
	}
	return latest.Score, true
}

// LatestIntent returns the last known intent sample.
func (s Snapshot) LatestIntent() (IntentSample, bool) {
	if len(s.Intents) == 0 {
		return IntentSample{}, false
	}
	return s.Intents[len(s.Intents)-1], true
}

// FreshIntent returns the intent produced by the current pass, if any.
func (s Snapshot) FreshIntent() (string, bool) {
	latest, ok := s.LatestIntent()
	if !ok || latest.Pass != s.Passes {
		return "", false
	}
	return latest.Label, true
}

// PassesSince returns how many passes have completed after the last intent
// whose label satisfies match. If no such intent exists, ok is false.
func (s Snapshot) PassesSince(match func(label string) bool) (passes int, ok bool) {
	for i := len(s.Intents) - 1; i >= 0; i-- {
		if match(s.Intents[i].Label) {
			return s.Passes - s.Intents[i].Pass, true
		}
	}
	return 0, false
}

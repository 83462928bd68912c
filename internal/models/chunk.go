// Package models defines the data structures shared across the call-assist pipeline.
package models

import (
	"fmt"
	"time"
)

// Chunk is one incremental unit of call audio. Immutable once created.
type Chunk struct {
	SessionID   string    `json:"sessionId"`
	Sequence    uint64    `json:"sequence"`
	Audio       []byte    `json:"-"`
	ArrivalTime time.Time `json:"arrivalTime"`
}

// GapReason explains why a run of sequence numbers was never processed.
type GapReason string

const (
	// GapBackpressure - chunk dropped because the session queue overflowed.
	GapBackpressure GapReason = "backpressure"
	// GapResync - sequence numbers skipped by a forced resync after the gap timeout.
	GapResync GapReason = "resync"
)

// Gap is an inclusive range of sequence numbers skipped for a session.
type Gap struct {
	From   uint64    `json:"from"`
	To     uint64    `json:"to"`
	Reason GapReason `json:"reason"`
}

// Len returns the number of sequence numbers in the gap.
func (g Gap) Len() uint64 {
	if g.To < g.From {
		return 0
	}
	return g.To - g.From + 1
}

func (g Gap) String() string {
	if g.From == g.To {
		return fmt.Sprintf("%d(%s)", g.From, g.Reason)
	}
	return fmt.Sprintf("%d-%d(%s)", g.From, g.To, g.Reason)
}

// Classifier names one of the external classification services.
type Classifier string

const (
	ClassifierTranscription Classifier = "transcription"
	ClassifierSentiment     Classifier = "sentiment"
	ClassifierIntent        Classifier = "intent"
)

// ClassificationResult is the merged outcome of one coordinator pass.
type ClassificationResult struct {
	TranscriptDelta string
	// SentimentScore is nil when sentiment was not produced for this pass.
	SentimentScore *float64
	// Intent is empty when no intent was produced for this pass.
	Intent string
	Errors map[Classifier]error
}

// Failed reports whether the given classifier failed during the pass.
func (r ClassificationResult) Failed(c Classifier) bool {
	_, ok := r.Errors[c]
	return ok
}

// SignalType identifies an out-of-band session status notification.
type SignalType string

const (
	SignalBackpressure SignalType = "backpressure"
	SignalDegraded     SignalType = "degraded"
	SignalRecovered    SignalType = "recovered"
	SignalResync       SignalType = "resync"
	SignalEnded        SignalType = "ended"
)

// SessionSignal is a status notification about a session. Signals are reported,
// never returned as errors.
type SessionSignal struct {
	EventType string     `json:"eventType"`
	Type      SignalType `json:"type"`
	SessionID string     `json:"sessionId"`
	Sequence  uint64     `json:"sequence,omitempty"`
	Gap       *Gap       `json:"gap,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	Timestamp int64      `json:"timestamp"`
}

package models

import (
	"fmt"
	"strings"
	"time"
)

// Stage is the inferred phase of the dialogue.
type Stage int

const (
	StageOpening Stage = iota
	StageDiscovery
	StageObjection
	StageClosing
	// StageEnded is terminal and only entered on an explicit session end.
	StageEnded
)

func (s Stage) String() string {
	switch s {
	case StageOpening:
		return "opening"
	case StageDiscovery:
		return "discovery"
	case StageObjection:
		return "objection"
	case StageClosing:
		return "closing"
	case StageEnded:
		return "ended"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// MarshalText encodes the stage by name.
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a stage name.
func (s *Stage) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "opening":
		*s = StageOpening
	case "discovery":
		*s = StageDiscovery
	case "objection":
		*s = StageObjection
	case "closing":
		*s = StageClosing
	case "ended":
		*s = StageEnded
	default:
		return fmt.Errorf("unknown stage %q", b)
	}
	return nil
}

// Kind partitions rule outputs.
type Kind string

const (
	KindSuggestion  Kind = "suggestion"
	KindAlert       Kind = "alert"
	KindOpportunity Kind = "opportunity"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return k == KindSuggestion || k == KindAlert || k == KindOpportunity
}

// Urgency is the display priority tier of an output. Higher is more urgent.
type Urgency int

const (
	UrgencyLow Urgency = iota + 1
	UrgencyMedium
	UrgencyHigh
)

func (u Urgency) String() string {
	switch u {
	case UrgencyLow:
		return "low"
	case UrgencyMedium:
		return "medium"
	case UrgencyHigh:
		return "high"
	default:
		return fmt.Sprintf("unknown(%d)", int(u))
	}
}

// ParseUrgency converts "high", "medium" or "low" to an Urgency.
func ParseUrgency(s string) (Urgency, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return UrgencyHigh, nil
	case "medium":
		return UrgencyMedium, nil
	case "low":
		return UrgencyLow, nil
	}
	return 0, fmt.Errorf("unknown urgency %q", s)
}

func (u Urgency) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

func (u *Urgency) UnmarshalText(b []byte) error {
	parsed, err := ParseUrgency(string(b))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// Output is a suggestion, warning alert or opportunity flag produced by one rule firing.
type Output struct {
	RuleID          string    `json:"ruleId"`
	Kind            Kind      `json:"kind"`
	Message         string    `json:"message"`
	SuggestedPhrase string    `json:"suggestedPhrase,omitempty"`
	Urgency         Urgency   `json:"urgency"`
	Priority        int       `json:"priority"`
	FiredAt         time.Time `json:"firedAt"`
}

// RealTimeAssistance is the agent-facing result of one pipeline pass.
type RealTimeAssistance struct {
	EventType  string `json:"eventType"`
	SessionID  string `json:"sessionId"`
	Sequence   uint64 `json:"sequence"`
	Transcript string `json:"transcript"`

	// SentimentScore is the last known score; nil if none was ever produced.
	SentimentScore *float64 `json:"sentimentScore,omitempty"`
	SentimentStale bool     `json:"sentimentStale"`
	DetectedIntent string   `json:"detectedIntent,omitempty"`
	IntentStale    bool     `json:"intentStale"`
	Stage          Stage    `json:"stage"`

	Suggestions      []Output `json:"suggestions"`
	WarningAlerts    []Output `json:"warningAlerts"`
	OpportunityFlags []Output `json:"opportunityFlags"`

	Degraded    bool      `json:"degraded"`
	Gaps        []Gap     `json:"gaps,omitempty"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// EventTypeAssistance is the event type stamped on published assistance results.
const EventTypeAssistance = "call.assistance"

// EventTypeSignal is the event type stamped on published session signals.
const EventTypeSignal = "call.session.signal"

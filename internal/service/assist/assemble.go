package assist

import (
	"time"

	"ai-call-assist-service/internal/models"
	"ai-call-assist-service/internal/service/session"
)

// Assemble builds the agent-facing result of one pass from the session
// snapshot and the ordered rule outputs. Outputs keep their relative order
// within each kind.
func Assemble(snap session.Snapshot, outputs []models.Output, gaps []models.Gap, at time.Time) models.RealTimeAssistance {
	a := models.RealTimeAssistance{
		EventType:        models.EventTypeAssistance,
		SessionID:        snap.SessionID,
		Sequence:         snap.LastSequence,
		Transcript:       snap.Transcript,
		Stage:            snap.Stage,
		Suggestions:      []models.Output{},
		WarningAlerts:    []models.Output{},
		OpportunityFlags: []models.Output{},
		Degraded:         snap.Degraded,
		GeneratedAt:      at,
	}
	if len(gaps) > 0 {
		a.Gaps = append([]models.Gap(nil), gaps...)
	}

	if s, ok := snap.LatestSentiment(); ok {
		score := s.Score
		a.SentimentScore = &score
		a.SentimentStale = s.Pass != snap.Passes
	}
	if i, ok := snap.LatestIntent(); ok {
		a.DetectedIntent = i.Label
		a.IntentStale = i.Pass != snap.Passes
	}

	for _, o := range outputs {
		switch o.Kind {
		case models.KindSuggestion:
			a.Suggestions = append(a.Suggestions, o)
		case models.KindAlert:
			a.WarningAlerts = append(a.WarningAlerts, o)
		case models.KindOpportunity:
			a.OpportunityFlags = append(a.OpportunityFlags, o)
		}
	}
	return a
}

// Package schema checks outgoing events before they leave the service.
package schema

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"ai-call-assist-service/internal/models"
)

// ErrInvalidEvent wraps every validation failure.
var ErrInvalidEvent = errors.New("invalid event")

type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// Validate checks the structural guarantees of an assistance result: outputs
// are partitioned by kind, ordered by urgency then priority, and only
// suggestions carry a suggested phrase.
func (v *Validator) Validate(a models.RealTimeAssistance) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if a.EventType != models.EventTypeAssistance {
		add("eventType %q", a.EventType)
	}
	if a.SessionID == "" {
		add("missing sessionId")
	}
	if a.SentimentScore != nil && (*a.SentimentScore < 0 || *a.SentimentScore > 1) {
		add("sentimentScore %v outside [0,1]", *a.SentimentScore)
	}
	if a.Stage < models.StageOpening || a.Stage > models.StageEnded {
		add("unknown stage %d", a.Stage)
	}
	for _, g := range a.Gaps {
		if g.To < g.From {
			add("gap %s is inverted", g)
		}
	}

	checkOutputs(add, "suggestions", models.KindSuggestion, a.Suggestions)
	checkOutputs(add, "warningAlerts", models.KindAlert, a.WarningAlerts)
	checkOutputs(add, "opportunityFlags", models.KindOpportunity, a.OpportunityFlags)

	if len(errs) > 0 {
		err := fmt.Errorf("%w: %w", ErrInvalidEvent, errors.Join(errs...))
		log.Debug().Err(err).Str("sessionId", a.SessionID).Uint64("sequence", a.Sequence).Msg("Schema validation failed")
		return err
	}
	return nil
}

func checkOutputs(add func(string, ...any), field string, kind models.Kind, outs []models.Output) {
	for i, o := range outs {
		if o.Kind != kind {
			add("%s[%d]: kind %q", field, i, o.Kind)
		}
		if o.RuleID == "" {
			add("%s[%d]: missing ruleId", field, i)
		}
		if o.Message == "" {
			add("%s[%d]: missing message", field, i)
		}
		if o.Urgency < models.UrgencyLow || o.Urgency > models.UrgencyHigh {
			add("%s[%d]: urgency %d", field, i, o.Urgency)
		}
		if kind != models.KindSuggestion && o.SuggestedPhrase != "" {
			add("%s[%d]: suggestedPhrase on %s", field, i, kind)
		}
		if i > 0 && outOfOrder(outs[i-1], o) {
			add("%s[%d]: not ordered by urgency and priority", field, i)
		}
	}
}

func outOfOrder(prev, cur models.Output) bool {
	if prev.Urgency != cur.Urgency {
		return prev.Urgency < cur.Urgency
	}
	return prev.Priority > cur.Priority
}

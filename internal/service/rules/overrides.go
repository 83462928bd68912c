package rules

import (
	"fmt"
	"time"

	"ai-call-assist-service/internal/models"
	"ai-call-assist-service/internal/service/session"
)

// Override adjusts one registered rule. Nil fields keep the rule's value.
type Override struct {
	Disabled        bool           `yaml:"disabled"`
	Priority        *int           `yaml:"priority"`
	Cooldown        *time.Duration `yaml:"cooldown"`
	Urgency         *string        `yaml:"urgency"`
	Message         *string        `yaml:"message"`
	SuggestedPhrase *string        `yaml:"suggestedPhrase"`
}

// ApplyOverrides returns a copy of rules with overrides applied and disabled
// rules removed. Overrides for unknown rule ids are rejected.
func ApplyOverrides(rules []Rule, overrides map[string]Override) ([]Rule, error) {
	known := make(map[string]bool, len(rules))
	for _, r := range rules {
		known[r.ID] = true
	}
	for id := range overrides {
		if !known[id] {
			return nil, fmt.Errorf("%w: override for unknown rule %q", ErrInvalidRule, id)
		}
	}

	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		o, ok := overrides[r.ID]
		if !ok {
			out = append(out, r)
			continue
		}
		if o.Disabled {
			continue
		}
		if o.Priority != nil {
			r.Priority = *o.Priority
		}
		if o.Cooldown != nil {
			r.Cooldown = *o.Cooldown
		}
		if o.Urgency != nil {
			u, err := models.ParseUrgency(*o.Urgency)
			if err != nil {
				return nil, fmt.Errorf("%w: rule %q: %v", ErrInvalidRule, r.ID, err)
			}
			r.Urgency = u
		}
		if o.Message != nil || o.SuggestedPhrase != nil {
			r.Build = rebuild(r.Build, o.Message, o.SuggestedPhrase)
		}
		if err := r.validate(); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func rebuild(build func(session.Snapshot) models.Output, msg, phrase *string) func(session.Snapshot) models.Output {
	return func(s session.Snapshot) models.Output {
		o := build(s)
		if msg != nil {
			o.Message = *msg
		}
		if phrase != nil {
			o.SuggestedPhrase = *phrase
		}
		return o
	}
}

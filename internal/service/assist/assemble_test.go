package assist

import (
	"testing"
	"time"

	"ai-call-assist-service/internal/models"
	"ai-call-assist-service/internal/service/session"
)

func TestAssemble_PartitionsByKind(t *testing.T) {
	c := session.New("S1", time.Unix(0, 0))
	c.BeginPass(1)
	outputs := []models.Output{
		{RuleID: "a", Kind: models.KindAlert, Urgency: models.UrgencyHigh},
		{RuleID: "o", Kind: models.KindOpportunity, Urgency: models.UrgencyHigh},
		{RuleID: "s1", Kind: models.KindSuggestion, Urgency: models.UrgencyMedium, Priority: 20},
		{RuleID: "s2", Kind: models.KindSuggestion, Urgency: models.UrgencyMedium, Priority: 25},
	}

	a := Assemble(c.Snapshot(), outputs, nil, time.Unix(5, 0))

	if got := ruleIDs(a.Suggestions); len(got) != 2 || got[0] != "s1" || got[1] != "s2" {
		t.Errorf("unexpected suggestions %v", got)
	}
	if len(a.WarningAlerts) != 1 || len(a.OpportunityFlags) != 1 {
		t.Errorf("unexpected partition %d/%d", len(a.WarningAlerts), len(a.OpportunityFlags))
	}
	if a.EventType != models.EventTypeAssistance || !a.GeneratedAt.Equal(time.Unix(5, 0)) {
		t.Errorf("unexpected envelope %+v", a)
	}
}

func TestAssemble_StaleValues(t *testing.T) {
	c := session.New("S1", time.Unix(0, 0))
	c.BeginPass(1)
	c.AppendUtterance(1, "too expensive", time.Unix(1, 0))
	c.AppendSentiment(1, 0.2, time.Unix(1, 0))
	c.AppendIntent(1, "price_objection", time.Unix(1, 0))

	fresh := Assemble(c.Snapshot(), nil, nil, time.Unix(1, 0))
	if fresh.SentimentStale || fresh.IntentStale {
		t.Error("values from the current pass must not be stale")
	}

	// Next chunk fails classification entirely.
	c.BeginPass(2)
	gaps := []models.Gap{{From: 3, To: 4, Reason: models.GapResync}}
	stale := Assemble(c.Snapshot(), nil, gaps, time.Unix(2, 0))

	if stale.SentimentScore == nil || *stale.SentimentScore != 0.2 || !stale.SentimentStale {
		t.Errorf("expected last known sentiment flagged stale, got %v %v", stale.SentimentScore, stale.SentimentStale)
	}
	if stale.DetectedIntent != "price_objection" || !stale.IntentStale {
		t.Errorf("expected last known intent flagged stale, got %q %v", stale.DetectedIntent, stale.IntentStale)
	}
	if stale.Sequence != 2 || stale.Transcript != "too expensive" {
		t.Errorf("unexpected sequence/transcript %d %q", stale.Sequence, stale.Transcript)
	}
	if len(stale.Gaps) != 1 || stale.Gaps[0] != gaps[0] {
		t.Errorf("expected gaps to be reported, got %v", stale.Gaps)
	}

	empty := Assemble(session.New("S2", time.Unix(0, 0)).Snapshot(), nil, nil, time.Unix(0, 0))
	if empty.SentimentScore != nil || empty.SentimentStale || empty.DetectedIntent != "" {
		t.Errorf("expected no values before any classification, got %+v", empty)
	}
	if empty.Suggestions == nil || empty.WarningAlerts == nil || empty.OpportunityFlags == nil {
		t.Error("output lists should be empty, not nil")
	}
}

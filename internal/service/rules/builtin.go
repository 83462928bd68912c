package rules

import (
	"time"

	"ai-call-assist-service/internal/models"
	"ai-call-assist-service/internal/service/session"
)

// Built-in rule ids.
const (
	RuleSentimentLow       = "sentiment_low"
	RulePriceObjection     = "price_objection"
	RuleTrustObjection     = "trust_objection"
	RuleClosingOpportunity = "closing_opportunity"
	RuleSentimentDeclining = "sentiment_declining"
	RuleUpsellInterest     = "upsell_interest"
)

// Thresholds are the numeric cut-offs used by the built-in rules.
type Thresholds struct {
	// LowSentiment fires sentiment_low for fresh scores strictly below it.
	LowSentiment float64 `yaml:"lowSentiment"`
	// DeclineDrop is the minimum overall drop across the last three samples.
	DeclineDrop float64 `yaml:"declineDrop"`
	// UpsellSentiment is the minimum fresh score for upsell_interest.
	UpsellSentiment float64 `yaml:"upsellSentiment"`
}

// DefaultThresholds returns the built-in cut-offs.
func DefaultThresholds() Thresholds {
	return Thresholds{
		LowSentiment:    0.30,
		DeclineDrop:     0.20,
		UpsellSentiment: 0.70,
	}
}

// Builtin returns the default rule set.
func Builtin(th Thresholds) []Rule {
	return []Rule{
		{
			ID:       RuleSentimentLow,
			Kind:     models.KindAlert,
			Urgency:  models.UrgencyHigh,
			Priority: 10,
			Cooldown: 30 * time.Second,
			Predicate: func(s session.Snapshot) bool {
				score, ok := s.FreshSentiment()
				return ok && score < th.LowSentiment
			},
			Build: message("客户情绪消极，建议使用安抚话术", ""),
		},
		{
			ID:        RulePriceObjection,
			Kind:      models.KindSuggestion,
			Urgency:   models.UrgencyMedium,
			Priority:  20,
			Cooldown:  time.Minute,
			Predicate: freshIntent("price_objection"),
			Build:     message("客户对价格有异议", "让我为您详细说明这个方案能为您带来的具体价值"),
		},
		{
			ID:        RuleTrustObjection,
			Kind:      models.KindSuggestion,
			Urgency:   models.UrgencyMedium,
			Priority:  25,
			Cooldown:  time.Minute,
			Predicate: freshIntent("trust_objection"),
			Build:     message("客户对可信度有顾虑，建议提供案例或保障", "我理解您的顾虑，让我们看看如何解决这个问题"),
		},
		{
			ID:       RuleClosingOpportunity,
			Kind:     models.KindOpportunity,
			Urgency:  models.UrgencyHigh,
			Priority: 30,
			Cooldown: time.Minute,
			Predicate: func(s session.Snapshot) bool {
				return s.Stage == models.StageClosing
			},
			Build: message("可以尝试促成交易：如果您现在决定，我们可以为您争取特别优惠", ""),
		},
		{
			ID:       RuleSentimentDeclining,
			Kind:     models.KindAlert,
			Urgency:  models.UrgencyMedium,
			Priority: 40,
			Cooldown: time.Minute,
			Predicate: func(s session.Snapshot) bool {
				if _, ok := s.FreshSentiment(); !ok {
					return false
				}
				return declining(s.Sentiments, th.DeclineDrop)
			},
			Build: message("客户情绪持续下降，建议放慢节奏并确认需求", ""),
		},
		{
			ID:       RuleUpsellInterest,
			Kind:     models.KindOpportunity,
			Urgency:  models.UrgencyLow,
			Priority: 50,
			Cooldown: 2 * time.Minute,
			Predicate: func(s session.Snapshot) bool {
				intent, ok := s.FreshIntent()
				if !ok || intent != "product_interest" {
					return false
				}
				score, ok := s.FreshSentiment()
				return ok && score >= th.UpsellSentiment
			},
			Build: message("客户对产品兴趣浓厚，可介绍升级套餐", ""),
		},
	}
}

func message(text, phrase string) func(session.Snapshot) models.Output {
	return func(session.Snapshot) models.Output {
		return models.Output{Message: text, SuggestedPhrase: phrase}
	}
}

func freshIntent(label string) func(session.Snapshot) bool {
	return func(s session.Snapshot) bool {
		intent, ok := s.FreshIntent()
		return ok && intent == label
	}
}

// scoreEpsilon absorbs float error when comparing score differences.
const scoreEpsilon = 1e-9

// declining reports whether the last three samples strictly decrease and the
// newest is at least drop below the oldest of the three.
func declining(samples []session.SentimentSample, drop float64) bool {
	if len(samples) < 3 {
		return false
	}
	a, b, c := samples[len(samples)-3], samples[len(samples)-2], samples[len(samples)-1]
	return a.Score > b.Score && b.Score > c.Score && a.Score-c.Score >= drop-scoreEpsilon
}

// Package rules evaluates prioritized predicate rules against a session
// snapshot and produces suggestions, warning alerts and opportunity flags.
package rules

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"ai-call-assist-service/internal/models"
	"ai-call-assist-service/internal/service/session"
)

var (
	ErrDuplicateRule = errors.New("duplicate rule id")
	ErrInvalidRule   = errors.New("invalid rule")
)

// Rule describes one predicate and the output it produces when it fires.
// Predicate and Build must be pure functions of the snapshot.
type Rule struct {
	ID       string
	Kind     models.Kind
	Urgency  models.Urgency
	Priority int
	Cooldown time.Duration

	Predicate func(session.Snapshot) bool
	// Build returns the message fields. Rule metadata (id, kind, urgency,
	// priority, firing time) is stamped by the engine.
	Build func(session.Snapshot) models.Output
}

func (r Rule) validate() error {
	switch {
	case r.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidRule)
	case !r.Kind.Valid():
		return fmt.Errorf("%w: rule %q has unknown kind %q", ErrInvalidRule, r.ID, r.Kind)
	case r.Urgency < models.UrgencyLow || r.Urgency > models.UrgencyHigh:
		return fmt.Errorf("%w: rule %q has unknown urgency %d", ErrInvalidRule, r.ID, r.Urgency)
	case r.Cooldown < 0:
		return fmt.Errorf("%w: rule %q has negative cooldown", ErrInvalidRule, r.ID)
	case r.Predicate == nil || r.Build == nil:
		return fmt.Errorf("%w: rule %q needs a predicate and a builder", ErrInvalidRule, r.ID)
	}
	return nil
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now as the source of firing times.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine is a registry of rules. Registration is safe for concurrent use with
// evaluation; the session contexts passed to Evaluate are not shared.
type Engine struct {
	mu    sync.RWMutex
	rules []Rule
	ids   map[string]bool
	now   func() time.Time
}

// NewEngine creates an empty engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		ids: make(map[string]bool),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register adds rules in order. Rules with equal priority are evaluated in
// registration order.
func (e *Engine) Register(rules ...Rule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, r := range rules {
		if err := r.validate(); err != nil {
			return err
		}
		if e.ids[r.ID] {
			return fmt.Errorf("%w: %q", ErrDuplicateRule, r.ID)
		}
		e.ids[r.ID] = true
		e.rules = append(e.rules, r)
	}
	sort.SliceStable(e.rules, func(i, j int) bool {
		return e.rules[i].Priority < e.rules[j].Priority
	})
	return nil
}

// Rules returns the registered rules in evaluation order.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Rule(nil), e.rules...)
}

// Evaluate runs every rule against a snapshot of c and returns the outputs of
// the rules that fired, ordered by urgency (highest first), then priority,
// then evaluation order. Each fired rule's cooldown entry in c is updated.
func (e *Engine) Evaluate(c *session.Context) []models.Output {
	rules := e.Rules()
	now := e.now()
	snap := c.Snapshot()

	var out []models.Output
	for _, r := range rules {
		if !r.Predicate(snap) {
			continue
		}
		if last, ok := c.FiredRules[r.ID]; ok && now.Sub(last) < r.Cooldown {
			continue
		}
		o := r.Build(snap)
		o.RuleID = r.ID
		o.Kind = r.Kind
		o.Urgency = r.Urgency
		o.Priority = r.Priority
		o.FiredAt = now
		if r.Kind != models.KindSuggestion {
			o.SuggestedPhrase = ""
		}
		c.MarkFired(r.ID, now)
		out = append(out, o)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Urgency != out[j].Urgency {
			return out[i].Urgency > out[j].Urgency
		}
		return out[i].Priority < out[j].Priority
	})
	return out
}

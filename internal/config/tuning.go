package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"ai-call-assist-service/internal/service/rules"
	"ai-call-assist-service/internal/service/stage"
)

// Tuning holds the rule and stage settings read from the tuning file. Fields
// absent from the file keep their defaults.
type Tuning struct {
	Rules RulesTuning `yaml:"rules"`
	Stage StageTuning `yaml:"stage"`
}

// RulesTuning adjusts the built-in rules.
type RulesTuning struct {
	Thresholds rules.Thresholds          `yaml:"thresholds"`
	Overrides  map[string]rules.Override `yaml:"overrides"`
}

// StageTuning replaces the stage tracker vocabularies. A list present in the
// file replaces the default list entirely.
type StageTuning struct {
	GreetingIntents      []string `yaml:"greetingIntents"`
	ObjectionIntents     []string `yaml:"objectionIntents"`
	ClosingIntents       []string `yaml:"closingIntents"`
	ClosingPhrases       []string `yaml:"closingPhrases"`
	ObjectionClearChunks int      `yaml:"objectionClearChunks"`
}

// DefaultTuning returns the built-in tuning.
func DefaultTuning() Tuning {
	sc := stage.DefaultConfig()
	return Tuning{
		Rules: RulesTuning{Thresholds: rules.DefaultThresholds()},
		Stage: StageTuning{
			GreetingIntents:      sc.GreetingIntents,
			ObjectionIntents:     sc.ObjectionIntents,
			ClosingIntents:       sc.ClosingIntents,
			ClosingPhrases:       sc.ClosingPhrases,
			ObjectionClearChunks: sc.ObjectionClearChunks,
		},
	}
}

// StageConfig converts the stage section for the tracker.
func (t Tuning) StageConfig() stage.Config {
	return stage.Config{
		GreetingIntents:      t.Stage.GreetingIntents,
		ObjectionIntents:     t.Stage.ObjectionIntents,
		ClosingIntents:       t.Stage.ClosingIntents,
		ClosingPhrases:       t.Stage.ClosingPhrases,
		ObjectionClearChunks: t.Stage.ObjectionClearChunks,
	}
}

// BuildRules builds the built-in rule set with thresholds and overrides applied.
func (t Tuning) BuildRules() ([]rules.Rule, error) {
	return rules.ApplyOverrides(rules.Builtin(t.Rules.Thresholds), t.Rules.Overrides)
}

// LoadTuning reads the tuning file at path. An empty path yields DefaultTuning.
func LoadTuning(path string) (Tuning, error) {
	if path == "" {
		return DefaultTuning(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return Tuning{}, fmt.Errorf("tuning: open %q: %w", path, err)
	}
	defer f.Close()

	t, err := LoadTuningFromReader(f)
	if err != nil {
		return Tuning{}, fmt.Errorf("tuning: parse %q: %w", path, err)
	}
	return t, nil
}

// LoadTuningFromReader decodes YAML tuning from r on top of the defaults and
// validates the result. Unknown keys are rejected.
func LoadTuningFromReader(r io.Reader) (Tuning, error) {
	t := DefaultTuning()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil && !errors.Is(err, io.EOF) {
		return Tuning{}, fmt.Errorf("tuning: decode yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return Tuning{}, err
	}
	return t, nil
}

// Validate returns a joined error listing every invalid value.
func (t Tuning) Validate() error {
	var errs []error

	th := t.Rules.Thresholds
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"rules.thresholds.lowSentiment", th.LowSentiment},
		{"rules.thresholds.declineDrop", th.DeclineDrop},
		{"rules.thresholds.upsellSentiment", th.UpsellSentiment},
	} {
		if f.v < 0 || f.v > 1 {
			errs = append(errs, fmt.Errorf("%s %v must be within [0,1]", f.name, f.v))
		}
	}
	if t.Stage.ObjectionClearChunks <= 0 {
		errs = append(errs, fmt.Errorf("stage.objectionClearChunks %d must be positive", t.Stage.ObjectionClearChunks))
	}
	if len(t.Stage.ObjectionIntents) == 0 {
		errs = append(errs, errors.New("stage.objectionIntents must not be empty"))
	}
	if _, err := t.BuildRules(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

package ratelimit

import (
	"fmt"
	"time"
)

// Rule defines the sliding-window limit for one named traffic class.
// Block > 0 escalates an exceeded window into a hard block: every request
// is denied until the block expires, regardless of window state.
// Block == 0 denies only the exceeding request (soft deny).
type Rule struct {
	Requests int           `yaml:"requests" json:"requests"`
	Window   time.Duration `yaml:"window" json:"window"`
	Block    time.Duration `yaml:"block" json:"block"`
}

// Enabled reports whether the rule is configured to limit anything.
func (r Rule) Enabled() bool {
	return r.Requests > 0 && r.Window > 0
}

// Rules maps rule names to their configuration.
type Rules map[string]Rule

// Validate rejects rules with negative fields.
func (rs Rules) Validate() error {
	for name, r := range rs {
		if r.Requests < 0 {
			return fmt.Errorf("rule %q: requests must not be negative", name)
		}
		if r.Window < 0 {
			return fmt.Errorf("rule %q: window must not be negative", name)
		}
		if r.Block < 0 {
			return fmt.Errorf("rule %q: block must not be negative", name)
		}
	}
	return nil
}

// Rule names checked by the decision pipeline.
const (
	RuleDecision      = "decision"
	RuleSessionCreate = "session_create"
	RuleAuthFailure   = "auth_failure"
)

// DefaultRules returns the built-in rule set. YAML config overlays these.
func DefaultRules() Rules {
	return Rules{
		RuleDecision:      {Requests: 120, Window: time.Minute},
		RuleSessionCreate: {Requests: 30, Window: time.Minute},
		RuleAuthFailure:   {Requests: 5, Window: 5 * time.Minute, Block: 15 * time.Minute},
	}
}

package pii

import (
	"fmt"
	"time"
)

// DefaultCustomReplacement is used when a custom rule has no replacement.
const DefaultCustomReplacement = "[REDACTED]"

// CustomRule is a user-supplied regex/replacement pair. Rules are owned by
// the rules store; detection only reads them.
type CustomRule struct {
	ID          int64     `json:"id,omitempty" yaml:"-"`
	Name        string    `json:"name" yaml:"name"`
	Pattern     string    `json:"pattern" yaml:"pattern"`
	Replacement string    `json:"replacement,omitempty" yaml:"replacement,omitempty"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Enabled     bool      `json:"enabled" yaml:"enabled"`
	CreatedAt   time.Time `json:"created_at,omitempty" yaml:"-"`
}

// EffectiveReplacement returns the rule replacement or DefaultCustomReplacement.
func (r CustomRule) EffectiveReplacement() string {
	if r.Replacement == "" {
		return DefaultCustomReplacement
	}
	return r.Replacement
}

// RuleError reports a custom rule that was skipped during detection.
type RuleError struct {
	Rule    string `json:"rule"`
	Pattern string `json:"pattern"`
	Reason  string `json:"reason"`
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("custom rule %q skipped: %s", e.Rule, e.Reason)
}

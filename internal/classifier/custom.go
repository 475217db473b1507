package classifier

import (
	"context"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	veilotel "github.com/dativo-io/veil/internal/otel"
	"github.com/dativo-io/veil/internal/pii"
)

// CompileRule compiles a custom rule pattern. It is exported so rule
// management can reject bad patterns before they are stored.
func CompileRule(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile(pattern)
}

// DetectCustom applies user-supplied rules to text. Disabled rules are
// ignored. A rule whose pattern does not compile is logged, reported in the
// returned slice and skipped; the remaining rules still run.
func DetectCustom(ctx context.Context, text string, rules []pii.CustomRule) ([]pii.Finding, []pii.RuleError) {
	ctx, span := tracer.Start(ctx, "classifier.detect_custom")
	defer span.End()

	if len(rules) == 0 || strings.TrimSpace(text) == "" {
		return nil, nil
	}
	idx := pii.IndexRunes(text)

	var (
		findings []pii.Finding
		skipped  []pii.RuleError
	)
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		re, err := CompileRule(rule.Pattern)
		if err != nil {
			log.Warn().
				Str("rule", rule.Name).
				Err(err).
				Func(veilotel.LogTraceFields(ctx)).
				Msg("custom_rule_skipped")
			skipped = append(skipped, pii.RuleError{
				Rule:    rule.Name,
				Pattern: rule.Pattern,
				Reason:  err.Error(),
			})
			continue
		}
		replacement := rule.EffectiveReplacement()
		for _, loc := range re.FindAllStringIndex(text, -1) {
			if loc[0] == loc[1] {
				continue
			}
			findings = append(findings, pii.Finding{
				Category:    pii.Custom,
				CustomLabel: rule.Name,
				Value:       text[loc[0]:loc[1]],
				Span:        idx.SpanOf(loc[0], loc[1]),
				Replacement: replacement,
				Confidence:  CategoricalConfidence,
				Redact:      true,
			})
		}
	}

	span.SetAttributes(
		attribute.Int("pii.custom_rule_count", len(rules)),
		attribute.Int("pii.custom_count", len(findings)),
		attribute.Int("pii.custom_skipped", len(skipped)),
	)
	return findings, skipped
}

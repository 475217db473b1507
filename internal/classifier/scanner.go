// Package classifier implements the pattern registry and the regex-based
// detectors: categorical recognizers loaded from embedded YAML and
// user-supplied custom rules.
package classifier

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	veilotel "github.com/dativo-io/veil/internal/otel"
	"github.com/dativo-io/veil/internal/pii"
)

var tracer = veilotel.Tracer("github.com/dativo-io/veil/internal/classifier")

// CategoricalConfidence is the confidence of every regex finding: the
// pattern either matches or it does not.
const CategoricalConfidence = 1.0

// Scanner runs the categorical recognizers over text.
type Scanner struct {
	patterns []Pattern
}

// ScannerOption configures a Scanner via the functional options pattern.
type ScannerOption func(*scannerConfig)

type scannerConfig struct {
	patternFile        string
	enabledCategories  []pii.Category
	disabledCategories []pii.Category
}

// WithPatternFile layers recognizers from a YAML override file on top of the
// embedded defaults. If the file does not exist, it is silently skipped.
func WithPatternFile(path string) ScannerOption {
	return func(c *scannerConfig) { c.patternFile = path }
}

// WithEnabledCategories restricts the scanner to the given categories.
func WithEnabledCategories(categories []pii.Category) ScannerOption {
	return func(c *scannerConfig) { c.enabledCategories = categories }
}

// WithDisabledCategories removes the given categories from the scanner.
func WithDisabledCategories(categories []pii.Category) ScannerOption {
	return func(c *scannerConfig) { c.disabledCategories = categories }
}

// NewScanner creates a categorical scanner. Without options it uses the
// embedded defaults.
func NewScanner(opts ...ScannerOption) (*Scanner, error) {
	var cfg scannerConfig
	for _, o := range opts {
		o(&cfg)
	}

	if cfg.patternFile == "" && len(cfg.enabledCategories) == 0 && len(cfg.disabledCategories) == 0 {
		return &Scanner{patterns: DefaultPatterns}, nil
	}

	defaults, err := DefaultRecognizerFile()
	if err != nil {
		return nil, fmt.Errorf("loading default recognizers: %w", err)
	}
	recs := defaults.Recognizers
	placeholders := defaults.Placeholders

	if cfg.patternFile != "" {
		rf, err := LoadRecognizerFile(cfg.patternFile)
		if err != nil {
			return nil, fmt.Errorf("loading pattern file: %w", err)
		}
		if rf != nil {
			recs = MergeRecognizers(recs, rf.Recognizers)
			placeholders = mergePlaceholders(placeholders, rf.Placeholders)
		}
	}

	recs = FilterByCategories(recs, cfg.enabledCategories, cfg.disabledCategories)

	compiled, err := CompilePatterns(recs, placeholders)
	if err != nil {
		return nil, fmt.Errorf("compiling patterns: %w", err)
	}
	return &Scanner{patterns: compiled}, nil
}

// MustNewScanner is like NewScanner but panics on error.
func MustNewScanner(opts ...ScannerOption) *Scanner {
	s, err := NewScanner(opts...)
	if err != nil {
		panic(fmt.Sprintf("classifier.NewScanner: %v", err))
	}
	return s
}

// Patterns returns the compiled patterns in emission order.
func (s *Scanner) Patterns() []Pattern {
	return s.patterns
}

// Detect runs every pattern over text and returns one finding per accepted
// match. Matching is global and non-overlapping per pattern: scanning
// resumes at the end of each match. Matches from different patterns may
// overlap. Empty or whitespace-only text yields no findings.
func (s *Scanner) Detect(ctx context.Context, text string) []pii.Finding {
	_, span := tracer.Start(ctx, "classifier.detect")
	defer span.End()

	if strings.TrimSpace(text) == "" {
		return nil
	}
	idx := pii.IndexRunes(text)

	var findings []pii.Finding
	for _, p := range s.patterns {
		for _, loc := range p.Regex.FindAllStringIndex(text, -1) {
			if loc[0] == loc[1] {
				continue
			}
			value := text[loc[0]:loc[1]]
			if p.Validate != nil && !p.Validate(value) {
				continue
			}
			findings = append(findings, pii.Finding{
				Category:    p.Category,
				CustomLabel: p.Label,
				Value:       value,
				Span:        idx.SpanOf(loc[0], loc[1]),
				Replacement: p.Placeholder,
				Confidence:  CategoricalConfidence,
				Redact:      true,
			})
		}
	}

	span.SetAttributes(
		attribute.Int("pii.pattern_count", len(s.patterns)),
		attribute.Int("pii.categorical_count", len(findings)),
	)
	return findings
}

func mergePlaceholders(base, override map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// Package engine is the detection entry point. It runs the categorical,
// name and custom-rule detectors over one text and merges their findings.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/dativo-io/veil/internal/classifier"
	"github.com/dativo-io/veil/internal/names"
	veilotel "github.com/dativo-io/veil/internal/otel"
	"github.com/dativo-io/veil/internal/pii"
)

var tracer = veilotel.Tracer("github.com/dativo-io/veil/internal/engine")

// DispatchMode records where a detection ran.
type DispatchMode string

const (
	DispatchInline    DispatchMode = "inline"
	DispatchOffloaded DispatchMode = "offloaded"
	// DispatchFallback means the worker pool did not answer in time and the
	// detection ran on the caller's goroutine instead.
	DispatchFallback DispatchMode = "fallback"
)

// Detection is the result of one detection call.
type Detection struct {
	Findings []pii.Finding   `json:"findings"`
	Skipped  []pii.RuleError `json:"skipped_rules,omitempty"`
	Dispatch DispatchMode    `json:"dispatch"`
}

// Engine bundles the detectors. It holds no per-call state and is safe for
// concurrent use.
type Engine struct {
	scanner *classifier.Scanner
	names   *names.Detector
}

// Option configures an Engine.
type Option func(*Engine)

// WithScanner replaces the default categorical scanner.
func WithScanner(s *classifier.Scanner) Option {
	return func(e *Engine) { e.scanner = s }
}

// WithNameDetector replaces the default name detector.
func WithNameDetector(d *names.Detector) Option {
	return func(e *Engine) { e.names = d }
}

// New creates an engine. Detectors not supplied through options use the
// embedded defaults.
func New(opts ...Option) *Engine {
	e := &Engine{}
	for _, o := range opts {
		o(e)
	}
	if e.scanner == nil {
		e.scanner = classifier.MustNewScanner()
	}
	if e.names == nil {
		e.names = names.Default()
	}
	return e
}

// NewFromFiles creates an engine whose recognizers and name lexicon are
// layered with optional override files. Empty paths and missing files fall
// back to the embedded defaults.
func NewFromFiles(patternsFile, lexiconFile string) (*Engine, error) {
	var opts []Option
	if patternsFile != "" {
		s, err := classifier.NewScanner(classifier.WithPatternFile(patternsFile))
		if err != nil {
			return nil, fmt.Errorf("building scanner: %w", err)
		}
		opts = append(opts, WithScanner(s))
	}
	if lexiconFile != "" {
		override, err := names.LoadLexicon(lexiconFile)
		if err != nil {
			return nil, fmt.Errorf("loading lexicon: %w", err)
		}
		if override != nil {
			base, err := names.DefaultLexicon()
			if err != nil {
				return nil, err
			}
			d, err := names.NewDetector(base.Merge(override))
			if err != nil {
				return nil, fmt.Errorf("building name detector: %w", err)
			}
			opts = append(opts, WithNameDetector(d))
		}
	}
	return New(opts...), nil
}

// Detect finds PII in text. Custom rules with invalid patterns are skipped
// and reported in Detection.Skipped; the call still succeeds. The only error
// is pii.ErrInvalidInput for text that is not valid UTF-8.
func (e *Engine) Detect(ctx context.Context, text string, rules []pii.CustomRule) (*Detection, error) {
	ctx, span := tracer.Start(ctx, "engine.detect")
	defer span.End()

	if !utf8.ValidString(text) {
		return nil, fmt.Errorf("detect: text is not valid UTF-8: %w", pii.ErrInvalidInput)
	}
	if strings.TrimSpace(text) == "" {
		return &Detection{Findings: []pii.Finding{}, Dispatch: DispatchInline}, nil
	}

	start := time.Now()
	categorical := e.scanner.Detect(ctx, text)
	nameFindings := e.names.Detect(ctx, text)
	custom, skipped := classifier.DetectCustom(ctx, text, rules)
	findings := pii.Merge(categorical, nameFindings, custom)

	recordDetection(ctx, findings, len(skipped), time.Since(start))
	span.SetAttributes(veilotel.DetectionAttributes(pii.RuneLen(text), len(findings), len(skipped), false)...)

	log.Debug().
		Int("findings", len(findings)).
		Int("skipped_rules", len(skipped)).
		Dur("elapsed", time.Since(start)).
		Func(veilotel.LogTraceFields(ctx)).
		Msg("detection_complete")

	return &Detection{Findings: findings, Skipped: skipped, Dispatch: DispatchInline}, nil
}

var defaultEngine = sync.OnceValue(func() *Engine { return New() })

// Default returns a shared engine built from the embedded defaults.
func Default() *Engine {
	return defaultEngine()
}

// DetectPII runs the default engine and returns only the merged findings.
func DetectPII(ctx context.Context, text string, rules []pii.CustomRule) ([]pii.Finding, error) {
	det, err := Default().Detect(ctx, text, rules)
	if err != nil {
		return nil, err
	}
	return det.Findings, nil
}

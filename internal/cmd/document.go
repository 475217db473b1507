package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dativo-io/veil/internal/config"
	"github.com/dativo-io/veil/internal/engine"
	"github.com/dativo-io/veil/internal/extract"
	"github.com/dativo-io/veil/internal/pii"
	"github.com/dativo-io/veil/internal/rules"
)

// stdinName is the pseudo file name used for documents piped on stdin.
const stdinName = "stdin.txt"

// ruleFlags are shared by every command that runs detection.
type ruleFlags struct {
	rulesFile     string
	noStoredRules bool
}

func (f *ruleFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.rulesFile, "rules-file", "", "YAML file of extra custom rules for this run")
	cmd.Flags().BoolVar(&f.noStoredRules, "no-stored-rules", false, "ignore the custom rules saved with 'veil rules'")
}

func (f *ruleFlags) reset() {
	*f = ruleFlags{}
}

// pipeline holds what the document commands share: configuration, the
// detection engine and the text extractor.
type pipeline struct {
	cfg       *config.Config
	engine    *engine.Engine
	extractor *extract.Extractor
}

func newPipeline() (*pipeline, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	eng, err := engine.NewFromFiles(cfg.PatternsFile, cfg.LexiconFile)
	if err != nil {
		return nil, fmt.Errorf("building detection engine: %w", err)
	}
	return &pipeline{
		cfg:       cfg,
		engine:    eng,
		extractor: extract.NewExtractor(cfg.MaxDocumentMB),
	}, nil
}

// read extracts the text of path. "-" reads plain text from stdin.
func (p *pipeline) read(ctx context.Context, cmd *cobra.Command, path string) (string, error) {
	if path == "-" {
		return p.extractor.ExtractReader(ctx, stdinName, cmd.InOrStdin())
	}
	return p.extractor.Extract(ctx, path)
}

// rules collects the custom rules for one run: enabled stored rules first,
// then the rules of --rules-file.
func (p *pipeline) rules(ctx context.Context, f *ruleFlags) ([]pii.CustomRule, error) {
	var out []pii.CustomRule
	if !f.noStoredRules && fileExists(p.cfg.RulesDBPath()) {
		store, err := rules.NewStore(p.cfg.RulesDBPath())
		if err != nil {
			return nil, fmt.Errorf("opening rules store: %w", err)
		}
		defer store.Close()
		stored, err := store.Enabled(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading stored rules: %w", err)
		}
		out = append(out, stored...)
	}
	if f.rulesFile != "" {
		data, err := os.ReadFile(f.rulesFile)
		if err != nil {
			return nil, fmt.Errorf("reading rules file: %w", err)
		}
		extra, err := rules.ParseRuleFile(data)
		if err != nil {
			return nil, err
		}
		out = append(out, extra...)
	}
	return out, nil
}

// detect reads path and runs detection on it.
func (p *pipeline) detect(ctx context.Context, cmd *cobra.Command, path string, f *ruleFlags) (string, *engine.Detection, error) {
	text, err := p.read(ctx, cmd, path)
	if err != nil {
		return "", nil, err
	}
	ruleSet, err := p.rules(ctx, f)
	if err != nil {
		return "", nil, err
	}
	det, err := p.engine.Detect(ctx, text, ruleSet)
	if err != nil {
		return "", nil, err
	}
	return text, det, nil
}

// loadFindings reads a findings list saved with 'veil detect --format json'
// and checks it still belongs to text.
func loadFindings(path, text string) ([]pii.Finding, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading findings file: %w", err)
	}
	var doc struct {
		Findings []pii.Finding `json:"findings"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing findings file: %w", err)
	}
	if err := pii.Validate(text, doc.Findings); err != nil {
		return nil, err
	}
	return doc.Findings, nil
}

// keepFindings marks findings as ignored. Each selector is a finding id, a
// category name or a custom rule name (case-insensitive).
func keepFindings(findings []pii.Finding, selectors []string) error {
	for _, sel := range selectors {
		sel = strings.TrimSpace(sel)
		if sel == "" {
			continue
		}
		if err := pii.SetRedact(findings, sel, false); err == nil {
			continue
		}
		matched := false
		for i := range findings {
			f := &findings[i]
			if string(f.Category) == sel || (f.Category == pii.Custom && strings.EqualFold(f.CustomLabel, sel)) {
				f.SetRedact(false)
				matched = true
			}
		}
		if !matched {
			if _, err := pii.ParseCategory(sel); err != nil {
				return fmt.Errorf("--keep %q matches no finding id, category or rule", sel)
			}
		}
	}
	return nil
}

// outputWriter returns the file named by path, or stdout when path is empty.
func outputWriter(cmd *cobra.Command, path string) (io.Writer, func() error, error) {
	if path == "" {
		return cmd.OutOrStdout(), func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("creating output file: %w", err)
	}
	return f, f.Close, nil
}

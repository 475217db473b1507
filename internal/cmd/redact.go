package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dativo-io/veil/internal/evidence"
	"github.com/dativo-io/veil/internal/pii"
	"github.com/dativo-io/veil/internal/redact"
)

var (
	redactRules    ruleFlags
	redactKeep     []string
	redactFindings string
	redactStrict   bool
	redactOutput   string
)

var redactCmd = &cobra.Command{
	Use:   "redact [file]",
	Short: "Write the redacted text of a document",
	Long: `Redact detects PII in a document and prints its text with every finding
replaced by its placeholder. Use "-" to read plain text from stdin.

--keep leaves findings in place; it takes finding ids, category names or
custom rule names. --findings redacts with a reviewed list produced by
'veil detect --format json' instead of running detection again.`,
	Args: cobra.ExactArgs(1),
	RunE: runRedact,
}

func init() {
	redactRules.register(redactCmd)
	redactCmd.Flags().StringSliceVar(&redactKeep, "keep", nil, "finding ids, categories or rule names to leave unredacted")
	redactCmd.Flags().StringVar(&redactFindings, "findings", "", "reviewed findings JSON from 'veil detect --format json'")
	redactCmd.Flags().BoolVar(&redactStrict, "strict", false, "fail instead of coalescing overlapping findings")
	redactCmd.Flags().StringVarP(&redactOutput, "output", "o", "", "write to file instead of stdout")
	rootCmd.AddCommand(redactCmd)
}

func runRedact(cmd *cobra.Command, args []string) error {
	ctx, span := tracer.Start(cmd.Context(), "redact")
	defer span.End()

	p, err := newPipeline()
	if err != nil {
		return err
	}

	if redactFindings == "" {
		text, det, err := p.detect(ctx, cmd, args[0], &redactRules)
		if err != nil {
			return err
		}
		return writeRedacted(ctx, cmd, p, text, det.Findings, evidence.GenerateParams{
			Document:     documentName(args[0]),
			SkippedRules: len(det.Skipped),
			Dispatch:     string(det.Dispatch),
		})
	}

	text, err := p.read(ctx, cmd, args[0])
	if err != nil {
		return err
	}
	findings, err := loadFindings(redactFindings, text)
	if errors.Is(err, pii.ErrStaleFindings) {
		return fmt.Errorf("%w; run 'veil detect' again", err)
	}
	if err != nil {
		return err
	}
	return writeRedacted(ctx, cmd, p, text, findings, evidence.GenerateParams{Document: documentName(args[0])})
}

// writeRedacted applies --keep and --strict, writes the redacted text and
// records evidence for it.
func writeRedacted(ctx context.Context, cmd *cobra.Command, p *pipeline, text string, findings []pii.Finding, ev evidence.GenerateParams) error {
	if err := keepFindings(findings, redactKeep); err != nil {
		return err
	}
	if redactStrict {
		if err := redact.Disjoint(findings); err != nil {
			return err
		}
	}

	w, closeOut, err := outputWriter(cmd, redactOutput)
	if err != nil {
		return err
	}
	redacted := redact.Redact(text, findings)
	_, err = fmt.Fprint(w, redacted)
	if cerr := closeOut(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	ev.Operation = evidence.OpCLIRedact
	ev.Input = text
	ev.Output = redacted
	ev.Findings = findings
	recordEvidence(ctx, p.cfg, ev)
	return nil
}

// documentName is the evidence document label for a command argument.
func documentName(arg string) string {
	if arg == "-" {
		return ""
	}
	return arg
}

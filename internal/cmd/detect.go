package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dativo-io/veil/internal/engine"
	"github.com/dativo-io/veil/internal/pii"
)

var (
	detectRules  ruleFlags
	detectFormat string
	detectOutput string
)

var detectCmd = &cobra.Command{
	Use:   "detect [file]",
	Short: "List the PII found in a document",
	Long: `Detect extracts the text of a document (txt, md, csv, html, pdf, docx) and
lists every PII finding with its id, category, position and confidence.
Use "-" to read plain text from stdin.

The JSON output (--format json) can be edited and fed back to
'veil redact --findings' to redact with a reviewed finding list.`,
	Args: cobra.ExactArgs(1),
	RunE: runDetect,
}

func init() {
	detectRules.register(detectCmd)
	detectCmd.Flags().StringVar(&detectFormat, "format", "text", "output format (text, json)")
	detectCmd.Flags().StringVarP(&detectOutput, "output", "o", "", "write to file instead of stdout")
	rootCmd.AddCommand(detectCmd)
}

// detectReport is the JSON shape of 'veil detect --format json'.
type detectReport struct {
	Document string `json:"document"`
	*engine.Detection
	Stats pii.Stats `json:"stats"`
}

func runDetect(cmd *cobra.Command, args []string) error {
	ctx, span := tracer.Start(cmd.Context(), "detect")
	defer span.End()

	if detectFormat != "text" && detectFormat != "json" {
		return fmt.Errorf("unknown format %q (use text or json)", detectFormat)
	}

	p, err := newPipeline()
	if err != nil {
		return err
	}
	_, det, err := p.detect(ctx, cmd, args[0], &detectRules)
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.Int("pii.finding_count", len(det.Findings)))

	w, closeOut, err := outputWriter(cmd, detectOutput)
	if err != nil {
		return err
	}
	if detectFormat == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		err = enc.Encode(detectReport{Document: args[0], Detection: det, Stats: pii.ComputeStats(det.Findings)})
	} else {
		printFindings(w, det)
	}
	if cerr := closeOut(); err == nil {
		err = cerr
	}
	return err
}

// printFindings writes the human-readable finding table.
func printFindings(w io.Writer, det *engine.Detection) {
	if len(det.Findings) == 0 {
		fmt.Fprintln(w, "No PII found.")
	} else {
		fmt.Fprintf(w, "%-8s %-14s %-13s %-5s %s\n", "ID", "CATEGORY", "SPAN", "CONF", "VALUE")
		for i := range det.Findings {
			f := &det.Findings[i]
			fmt.Fprintf(w, "%-8s %-14s %-13s %-5.2f %s\n",
				f.ID, truncate(f.Label(), 14), fmt.Sprintf("%d-%d", f.Span.Start, f.Span.End), f.Confidence, oneLine(f.Value))
		}
		stats := pii.ComputeStats(det.Findings)
		fmt.Fprintf(w, "\n%d findings, %d marked for redaction\n", stats.Total, stats.Active)
	}
	for _, s := range det.Skipped {
		fmt.Fprintf(w, "Skipped rule %q: %s\n", s.Rule, s.Reason)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

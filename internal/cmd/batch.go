package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dativo-io/veil/internal/engine"
	"github.com/dativo-io/veil/internal/evidence"
	"github.com/dativo-io/veil/internal/extract"
	veilotel "github.com/dativo-io/veil/internal/otel"
	"github.com/dativo-io/veil/internal/pii"
	"github.com/dativo-io/veil/internal/redact"
)

// redactedSuffix is appended to the base name of every batch output file.
const redactedSuffix = ".redacted.txt"

var (
	batchRules  ruleFlags
	batchOutDir string
)

var batchCmd = &cobra.Command{
	Use:   "batch [dir]",
	Short: "Redact every supported document in a directory",
	Long: `Batch redacts each supported document directly inside dir and writes
<name>.redacted.txt to the output directory. Large documents are detected on
the worker pool (see offload_threshold and workers in 'veil config show').
A failing document is reported and skipped; the others are still written.`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	batchRules.register(batchCmd)
	batchCmd.Flags().StringVar(&batchOutDir, "out", "", "output directory (default: <dir>/redacted)")
	rootCmd.AddCommand(batchCmd)
}

// batchResult is the outcome for one document.
type batchResult struct {
	name     string
	findings int
	dispatch engine.DispatchMode
	err      error
	evidence evidence.GenerateParams // filled for written documents
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx, span := tracer.Start(cmd.Context(), "batch")
	defer span.End()

	p, err := newPipeline()
	if err != nil {
		return err
	}
	inputs, err := batchInputs(args[0])
	if err != nil {
		return err
	}
	outDir := batchOutDir
	if outDir == "" {
		outDir = filepath.Join(args[0], "redacted")
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	ruleSet, err := p.rules(ctx, &batchRules)
	if err != nil {
		return err
	}

	d := engine.NewDispatcher(p.engine,
		engine.WithThreshold(p.cfg.OffloadThreshold),
		engine.WithTimeout(p.cfg.OffloadTimeout),
		engine.WithWorkers(p.cfg.Workers),
	)
	defer d.Close()

	results := make([]batchResult, len(inputs))
	sem := make(chan struct{}, p.cfg.Workers)
	var wg sync.WaitGroup
	for i, path := range inputs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = redactFile(ctx, p.extractor, d, ruleSet, path, outDir)
		}()
	}
	wg.Wait()

	// Evidence is written after the pool drains so SQLite sees one writer.
	var records []evidence.GenerateParams
	for _, r := range results {
		if r.err == nil {
			records = append(records, r.evidence)
		}
	}
	if len(records) > 0 {
		recordEvidence(ctx, p.cfg, records...)
	}

	span.SetAttributes(attribute.Int("batch.documents", len(inputs)))
	return printBatch(cmd, results)
}

// batchInputs lists the supported documents directly inside dir, sorted.
func batchInputs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading input directory: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), redactedSuffix) {
			continue
		}
		if slices.Contains(extract.Formats, strings.ToLower(filepath.Ext(e.Name()))) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no supported documents in %s (supported: %s)", dir, strings.Join(extract.Formats, ", "))
	}
	return out, nil
}

func redactFile(ctx context.Context, ex *extract.Extractor, d *engine.Dispatcher, ruleSet []pii.CustomRule, path, outDir string) batchResult {
	res := batchResult{name: filepath.Base(path)}
	text, err := ex.Extract(ctx, path)
	if err != nil {
		res.err = err
		return res
	}
	det, err := d.Detect(ctx, text, ruleSet)
	if err != nil {
		res.err = err
		return res
	}
	res.findings = len(det.Findings)
	res.dispatch = det.Dispatch

	base := strings.TrimSuffix(res.name, filepath.Ext(res.name))
	target := filepath.Join(outDir, base+redactedSuffix)
	redacted := redact.Redact(text, det.Findings)
	if err := os.WriteFile(target, []byte(redacted), 0o600); err != nil {
		res.err = fmt.Errorf("writing %s: %w", target, err)
		return res
	}
	log.Debug().
		Str("document", res.name).
		Int("findings", res.findings).
		Str("dispatch", string(res.dispatch)).
		Func(veilotel.LogTraceFields(ctx)).
		Msg("batch_document_redacted")
	res.evidence = evidence.GenerateParams{
		Operation:    evidence.OpBatch,
		Document:     path,
		Input:        text,
		Output:       redacted,
		Findings:     det.Findings,
		SkippedRules: len(det.Skipped),
		Dispatch:     string(det.Dispatch),
	}
	return res
}

func printBatch(cmd *cobra.Command, results []batchResult) error {
	out := cmd.OutOrStdout()
	failed := 0
	for _, r := range results {
		if r.err != nil {
			failed++
			fmt.Fprintf(out, "✗ %s: %v\n", r.name, r.err)
			continue
		}
		fmt.Fprintf(out, "✓ %s: %d findings (%s)\n", r.name, r.findings, r.dispatch)
	}
	fmt.Fprintf(out, "\n%d redacted, %d failed\n", len(results)-failed, failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(results))
	}
	return nil
}

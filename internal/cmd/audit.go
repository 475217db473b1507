package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dativo-io/veil/internal/config"
	"github.com/dativo-io/veil/internal/evidence"
	veilotel "github.com/dativo-io/veil/internal/otel"
)

// cliCaller is the caller recorded for evidence written by CLI commands.
const cliCaller = "cli"

var (
	auditCaller    string
	auditOperation string
	auditSince     time.Duration
	auditLimit     int
	auditFormat    string
	auditOutput    string
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query and export the redaction audit trail",
	Long: `Every redacted output (API, review session, 'veil redact' and 'veil batch')
leaves a signed evidence record: counts, category names and SHA-256 hashes of
the input and output. Records never contain the detected values.`,
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List evidence records, newest first",
	Args:  cobra.NoArgs,
	RunE:  auditList,
}

var auditShowCmd = &cobra.Command{
	Use:   "show [evidence-id]",
	Short: "Print one evidence record as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  auditShow,
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify [evidence-id]",
	Short: "Verify the HMAC signature of an evidence record",
	Args:  cobra.ExactArgs(1),
	RunE:  auditVerify,
}

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export evidence records as CSV or JSON",
	Args:  cobra.NoArgs,
	RunE:  auditExport,
}

func init() {
	for _, c := range []*cobra.Command{auditListCmd, auditExportCmd} {
		c.Flags().StringVar(&auditCaller, "caller", "", "filter by caller (API key name or \"cli\")")
		c.Flags().StringVar(&auditOperation, "operation", "", "filter by operation (api_redact, session_redact, cli_redact, batch)")
		c.Flags().DurationVar(&auditSince, "since", 0, "only records newer than this, e.g. 24h")
	}
	auditListCmd.Flags().IntVar(&auditLimit, "limit", 20, "maximum records to show")
	auditExportCmd.Flags().StringVar(&auditFormat, "format", "csv", "output format: csv or json")
	auditExportCmd.Flags().StringVarP(&auditOutput, "output", "o", "", "write to file instead of stdout")

	auditCmd.AddCommand(auditListCmd, auditShowCmd, auditVerifyCmd, auditExportCmd)
	rootCmd.AddCommand(auditCmd)
}

func openEvidenceStore(cfg *config.Config) (*evidence.Store, error) {
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	store, err := evidence.NewStore(cfg.EvidenceDBPath(), cfg.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("initializing evidence store: %w", err)
	}
	return store, nil
}

func loadEvidenceStore() (*evidence.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return openEvidenceStore(cfg)
}

// recordEvidence stores one evidence record per params with caller "cli" and
// returns their ids. The audit trail never fails a redaction: errors are
// logged and the record is skipped.
func recordEvidence(ctx context.Context, cfg *config.Config, params ...evidence.GenerateParams) []string {
	store, err := openEvidenceStore(cfg)
	if err != nil {
		log.Warn().Err(err).Func(veilotel.LogTraceFields(ctx)).Msg("evidence_store_unavailable")
		return nil
	}
	defer store.Close()

	gen := evidence.NewGenerator(store)
	ids := make([]string, 0, len(params))
	for _, p := range params {
		p.Caller = cliCaller
		ev, err := gen.Generate(ctx, p)
		if err != nil {
			log.Warn().
				Err(err).
				Str("operation", p.Operation).
				Func(veilotel.LogTraceFields(ctx)).
				Msg("evidence_record_failed")
			continue
		}
		log.Debug().Str("evidence_id", ev.ID).Str("operation", p.Operation).Msg("evidence_recorded")
		ids = append(ids, ev.ID)
	}
	return ids
}

func auditFilter(limit int) evidence.Filter {
	f := evidence.Filter{Caller: auditCaller, Operation: auditOperation, Limit: limit}
	if auditSince > 0 {
		f.From = time.Now().Add(-auditSince)
	}
	return f
}

func auditList(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	store, err := loadEvidenceStore()
	if err != nil {
		return err
	}
	defer store.Close()

	list, err := store.List(ctx, auditFilter(auditLimit))
	if err != nil {
		return fmt.Errorf("querying evidence: %w", err)
	}
	if len(list) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No evidence records found.")
		return nil
	}
	renderAuditList(cmd.OutOrStdout(), list)
	return nil
}

func auditShow(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	store, err := loadEvidenceStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ev, err := store.Get(ctx, args[0])
	if err != nil {
		return fmt.Errorf("loading evidence: %w", err)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(ev)
}

func auditVerify(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	evidenceID := args[0]

	store, err := loadEvidenceStore()
	if err != nil {
		return err
	}
	defer store.Close()

	valid, err := store.Verify(ctx, evidenceID)
	if err != nil {
		return fmt.Errorf("verifying evidence: %w", err)
	}
	renderVerifyResult(cmd.OutOrStdout(), evidenceID, valid)
	if !valid {
		return fmt.Errorf("signature verification failed for %s", evidenceID)
	}
	return nil
}

func auditExport(cmd *cobra.Command, args []string) error {
	if auditFormat != "csv" && auditFormat != "json" {
		return fmt.Errorf("unknown format %q (use csv or json)", auditFormat)
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	store, err := loadEvidenceStore()
	if err != nil {
		return err
	}
	defer store.Close()

	list, err := store.List(ctx, auditFilter(0))
	if err != nil {
		return fmt.Errorf("querying evidence: %w", err)
	}
	records := make([]evidence.ExportRecord, len(list))
	for i := range list {
		records[i] = evidence.ToExportRecord(&list[i])
	}

	w, closeOut, err := outputWriter(cmd, auditOutput)
	if err != nil {
		return err
	}
	if auditFormat == "csv" {
		err = evidence.WriteCSV(w, records)
	} else {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		err = enc.Encode(records)
	}
	if cerr := closeOut(); err == nil {
		err = cerr
	}
	return err
}

// renderAuditList writes one line per evidence record to w.
func renderAuditList(w io.Writer, list []evidence.Evidence) {
	fmt.Fprintf(w, "Evidence Records (showing %d):\n\n", len(list))
	for i := range list {
		ev := &list[i]
		categories := strings.Join(ev.Detection.Categories, ",")
		if categories == "" {
			categories = "-"
		}
		fmt.Fprintf(w, "  %s | %s | %s/%s | %d redacted, %d ignored | %s\n",
			ev.ID,
			ev.Timestamp.Local().Format("2006-01-02 15:04:05"),
			ev.Caller,
			ev.Operation,
			ev.Detection.Redacted,
			ev.Detection.Ignored,
			categories,
		)
	}
}

// renderVerifyResult writes the verify outcome to w.
func renderVerifyResult(w io.Writer, evidenceID string, valid bool) {
	if valid {
		fmt.Fprintf(w, "✓ Evidence %s: signature VALID (HMAC-SHA256 intact)\n", evidenceID)
	} else {
		fmt.Fprintf(w, "✗ Evidence %s: signature INVALID (possible tampering)\n", evidenceID)
	}
}

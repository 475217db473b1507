package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/dativo-io/veil/internal/doctor"
)

var (
	doctorFormat       string
	doctorVerifyRecent int
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run preflight checks (data dir, keys, patterns, stores)",
	Long: `Doctor verifies that the data directory is writable, the detection engine
builds from the configured pattern and lexicon files, the rules, sessions and
evidence databases open, and the newest evidence records verify with the
current signing key. Default keys are reported as warnings.`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	doctorCmd.Flags().StringVar(&doctorFormat, "format", "text", "output format: text or json")
	doctorCmd.Flags().IntVar(&doctorVerifyRecent, "verify-recent", 20, "number of newest evidence records to verify (0 to skip)")
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	if doctorFormat != "text" && doctorFormat != "json" {
		return fmt.Errorf("unknown format %q (use text or json)", doctorFormat)
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()

	report := doctor.Run(ctx, doctor.Options{VerifyRecent: doctorVerifyRecent})

	out := cmd.OutOrStdout()
	if doctorFormat == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		renderDoctorReport(out, report)
	}
	if report.Status == doctor.StatusFail {
		return fmt.Errorf("doctor checks failed (%d)", report.Summary.Fail)
	}
	return nil
}

// renderDoctorReport writes one line per check, grouped by category in the
// order they ran.
func renderDoctorReport(w io.Writer, report *doctor.Report) {
	category := ""
	for _, c := range report.Checks {
		if c.Category != category {
			if category != "" {
				fmt.Fprintln(w)
			}
			category = c.Category
			fmt.Fprintf(w, "[%s]\n", category)
		}
		mark := "✓"
		switch c.Status {
		case doctor.StatusWarn:
			mark = "⚠"
		case doctor.StatusFail:
			mark = "✗"
		}
		fmt.Fprintf(w, "  %s %-20s %s\n", mark, c.Name, c.Message)
		if c.Fix != "" && c.Status != doctor.StatusPass {
			fmt.Fprintf(w, "    → %s\n", c.Fix)
		}
	}
	fmt.Fprintf(w, "\n%d passed, %d warnings, %d failed\n", report.Summary.Pass, report.Summary.Warn, report.Summary.Fail)
}

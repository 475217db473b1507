package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dativo-io/veil/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage Veil configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  configShow,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}

func configShow(cmd *cobra.Command, args []string) error {
	_, span := tracer.Start(cmd.Context(), "config.show")
	defer span.End()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Data directory:     %s%s\n", cfg.DataDir, existsSuffix(dirExists(cfg.DataDir)))
	fmt.Fprintf(out, "Rules DB:           %s%s\n", cfg.RulesDBPath(), existsSuffix(fileExists(cfg.RulesDBPath())))
	fmt.Fprintf(out, "Sessions DB:        %s%s\n", cfg.SessionsDBPath(), existsSuffix(fileExists(cfg.SessionsDBPath())))
	if cfg.UsingDefaultSessionsKey() {
		fmt.Fprintln(out, "Sessions key:       derived default (set VEIL_SESSIONS_KEY)")
	} else {
		fmt.Fprintln(out, "Sessions key:       set")
	}
	fmt.Fprintf(out, "Evidence DB:        %s%s\n", cfg.EvidenceDBPath(), existsSuffix(fileExists(cfg.EvidenceDBPath())))
	if cfg.UsingDefaultSigningKey() {
		fmt.Fprintln(out, "Signing key:        derived default (set VEIL_SIGNING_KEY)")
	} else {
		fmt.Fprintln(out, "Signing key:        set")
	}
	fmt.Fprintf(out, "Session TTL:        %s (purge %s)\n", cfg.SessionTTL, cfg.PurgeSchedule)
	fmt.Fprintf(out, "Offload threshold:  %d runes\n", cfg.OffloadThreshold)
	fmt.Fprintf(out, "Offload timeout:    %s\n", cfg.OffloadTimeout)
	fmt.Fprintf(out, "Workers:            %d\n", cfg.Workers)
	fmt.Fprintf(out, "Max document size:  %d MB\n", cfg.MaxDocumentMB)
	fmt.Fprintf(out, "Rate limit:         %s\n", rateLimitLabel(cfg.RateLimitRPM))
	printOverride(out, "Patterns file:", cfg.PatternsFile)
	printOverride(out, "Lexicon file:", cfg.LexiconFile)
	return nil
}

func printOverride(out io.Writer, label, path string) {
	if path == "" {
		fmt.Fprintf(out, "%-19s (embedded)\n", label)
		return
	}
	fmt.Fprintf(out, "%-19s %s%s\n", label, path, existsSuffix(fileExists(path)))
}

func rateLimitLabel(rpm int) string {
	if rpm == 0 {
		return "disabled"
	}
	return fmt.Sprintf("%d requests/min", rpm)
}

func existsSuffix(ok bool) string {
	if ok {
		return " (exists)"
	}
	return ""
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

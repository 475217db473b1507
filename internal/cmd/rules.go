package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/dativo-io/veil/internal/config"
	"github.com/dativo-io/veil/internal/pii"
	"github.com/dativo-io/veil/internal/rules"
)

var (
	ruleReplacement string
	ruleDescription string
	ruleDisabled    bool
	rulesExportOut  string
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage custom redaction rules",
	Long: `Custom rules are regular expressions (RE2 syntax) applied on top of the
built-in detectors. Enabled rules are used by detect, redact, highlight,
batch and the HTTP API.`,
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List custom rules",
	RunE:  rulesList,
}

var rulesAddCmd = &cobra.Command{
	Use:   "add [name] [pattern]",
	Short: "Add a custom rule",
	Args:  cobra.ExactArgs(2),
	RunE:  rulesAdd,
}

var rulesDeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a custom rule",
	Args:  cobra.ExactArgs(1),
	RunE:  rulesDelete,
}

var rulesEnableCmd = &cobra.Command{
	Use:   "enable [id]",
	Short: "Enable a custom rule",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return rulesToggle(cmd, args[0], true) },
}

var rulesDisableCmd = &cobra.Command{
	Use:   "disable [id]",
	Short: "Disable a custom rule without deleting it",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return rulesToggle(cmd, args[0], false) },
}

var rulesImportCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Add every rule of a YAML rule file",
	Args:  cobra.ExactArgs(1),
	RunE:  rulesImport,
}

var rulesExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Print all rules as a YAML rule file",
	RunE:  rulesExport,
}

func init() {
	rulesAddCmd.Flags().StringVar(&ruleReplacement, "replacement", "", "replacement text (default "+pii.DefaultCustomReplacement+")")
	rulesAddCmd.Flags().StringVar(&ruleDescription, "description", "", "free-form description")
	rulesAddCmd.Flags().BoolVar(&ruleDisabled, "disabled", false, "store the rule disabled")
	rulesExportCmd.Flags().StringVarP(&rulesExportOut, "output", "o", "", "write to file instead of stdout")

	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesAddCmd)
	rulesCmd.AddCommand(rulesDeleteCmd)
	rulesCmd.AddCommand(rulesEnableCmd)
	rulesCmd.AddCommand(rulesDisableCmd)
	rulesCmd.AddCommand(rulesImportCmd)
	rulesCmd.AddCommand(rulesExportCmd)
	rootCmd.AddCommand(rulesCmd)
}

func openRulesStore() (*rules.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return rules.NewStore(cfg.RulesDBPath())
}

func parseRuleID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid rule id %q", s)
	}
	return id, nil
}

func rulesList(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	store, err := openRulesStore()
	if err != nil {
		return fmt.Errorf("initializing rules: %w", err)
	}
	defer store.Close()

	list, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("listing rules: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(list) == 0 {
		fmt.Fprintln(out, "No custom rules yet. Add one with 'veil rules add'.")
		return nil
	}
	fmt.Fprintf(out, "%-4s %-8s %-20s %-16s %s\n", "ID", "STATE", "NAME", "REPLACEMENT", "PATTERN")
	for _, r := range list {
		state := "enabled"
		if !r.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(out, "%-4d %-8s %-20s %-16s %s\n", r.ID, state, truncate(r.Name, 20), truncate(r.EffectiveReplacement(), 16), r.Pattern)
	}
	return nil
}

func rulesAdd(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	store, err := openRulesStore()
	if err != nil {
		return fmt.Errorf("initializing rules: %w", err)
	}
	defer store.Close()

	r, err := store.Add(ctx, pii.CustomRule{
		Name:        args[0],
		Pattern:     args[1],
		Replacement: ruleReplacement,
		Description: ruleDescription,
		Enabled:     !ruleDisabled,
	})
	if err != nil {
		return fmt.Errorf("adding rule: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Rule %d '%s' added\n", r.ID, r.Name)
	return nil
}

func rulesDelete(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	id, err := parseRuleID(args[0])
	if err != nil {
		return err
	}
	store, err := openRulesStore()
	if err != nil {
		return fmt.Errorf("initializing rules: %w", err)
	}
	defer store.Close()

	if err := store.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting rule: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Rule %d deleted\n", id)
	return nil
}

func rulesToggle(cmd *cobra.Command, arg string, enabled bool) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	id, err := parseRuleID(arg)
	if err != nil {
		return err
	}
	store, err := openRulesStore()
	if err != nil {
		return fmt.Errorf("initializing rules: %w", err)
	}
	defer store.Close()

	if err := store.Toggle(ctx, id, enabled); err != nil {
		return fmt.Errorf("updating rule: %w", err)
	}
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Rule %d %s\n", id, state)
	return nil
}

func rulesImport(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	store, err := openRulesStore()
	if err != nil {
		return fmt.Errorf("initializing rules: %w", err)
	}
	defer store.Close()

	n, err := store.ImportFile(ctx, args[0])
	if err != nil {
		return fmt.Errorf("importing rules (%d added before the error): %w", n, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ %d rules imported\n", n)
	return nil
}

func rulesExport(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	store, err := openRulesStore()
	if err != nil {
		return fmt.Errorf("initializing rules: %w", err)
	}
	defer store.Close()

	list, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("listing rules: %w", err)
	}
	data, err := rules.MarshalRuleFile(list)
	if err != nil {
		return err
	}

	w, closeOut, err := outputWriter(cmd, rulesExportOut)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	if cerr := closeOut(); err == nil {
		err = cerr
	}
	return err
}

// Package doctor provides preflight checks for Veil configuration and local
// stores. Used by `veil doctor`.
package doctor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dativo-io/veil/internal/classifier"
	"github.com/dativo-io/veil/internal/config"
	"github.com/dativo-io/veil/internal/engine"
	"github.com/dativo-io/veil/internal/evidence"
	"github.com/dativo-io/veil/internal/pii"
	"github.com/dativo-io/veil/internal/review"
	"github.com/dativo-io/veil/internal/rules"
)

// Check statuses, ordered from best to worst.
const (
	StatusPass = "pass"
	StatusWarn = "warn"
	StatusFail = "fail"
)

// selfTestText must yield an email finding with any working pattern set.
const selfTestText = "Reach the candidate at doctor.check@example.com"

// CheckResult is a single doctor check outcome.
type CheckResult struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Status   string `json:"status"` // pass, warn, fail
	Message  string `json:"message"`
	Fix      string `json:"fix,omitempty"`
}

// Summary tallies pass/warn/fail counts.
type Summary struct {
	Pass int `json:"pass"`
	Warn int `json:"warn"`
	Fail int `json:"fail"`
}

// Report is the complete doctor output.
type Report struct {
	Status  string        `json:"status"` // worst of all checks
	Checks  []CheckResult `json:"checks"`
	Summary Summary       `json:"summary"`
}

// Options controls which checks run.
type Options struct {
	// VerifyRecent is how many of the newest evidence records get their
	// signature checked. Zero skips the check.
	VerifyRecent int
}

// Run executes all doctor checks and returns a report.
func Run(ctx context.Context, opts Options) *Report {
	report := &Report{}

	cfg, err := config.Load()
	if err != nil {
		report.Checks = []CheckResult{{
			Name: "config_load", Category: "config", Status: StatusFail,
			Message: fmt.Sprintf("Cannot load config: %v", err),
			Fix:     "Check VEIL_* environment variables and veil.config.yaml",
		}}
	} else {
		report.Checks = append(report.Checks, checkDataDir(cfg))
		report.Checks = append(report.Checks, checkKeys(cfg)...)
		report.Checks = append(report.Checks, checkDetection(ctx, cfg))
		report.Checks = append(report.Checks, checkRulesDB(ctx, cfg))
		report.Checks = append(report.Checks, checkSessionsDB(cfg))
		report.Checks = append(report.Checks, checkEvidence(ctx, cfg, opts)...)
	}

	report.summarize()
	return report
}

func (r *Report) summarize() {
	r.Summary = Summary{}
	for _, c := range r.Checks {
		switch c.Status {
		case StatusPass:
			r.Summary.Pass++
		case StatusWarn:
			r.Summary.Warn++
		case StatusFail:
			r.Summary.Fail++
		}
	}
	r.Status = StatusPass
	if r.Summary.Warn > 0 {
		r.Status = StatusWarn
	}
	if r.Summary.Fail > 0 {
		r.Status = StatusFail
	}
}

func checkDataDir(cfg *config.Config) CheckResult {
	if err := cfg.EnsureDataDir(); err != nil {
		return CheckResult{
			Name: "data_dir_writable", Category: "config", Status: StatusFail,
			Message: fmt.Sprintf("%s: %v", cfg.DataDir, err),
			Fix:     "Ensure the directory exists and is writable, or set VEIL_DATA_DIR",
		}
	}
	testFile := filepath.Join(cfg.DataDir, ".doctor-write-test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return CheckResult{
			Name: "data_dir_writable", Category: "config", Status: StatusFail,
			Message: fmt.Sprintf("%s not writable: %v", cfg.DataDir, err),
		}
	}
	_ = os.Remove(testFile)
	return CheckResult{
		Name: "data_dir_writable", Category: "config", Status: StatusPass,
		Message: fmt.Sprintf("%s (writable)", cfg.DataDir),
	}
}

func checkKeys(cfg *config.Config) []CheckResult {
	keyCheck := func(name, env string, usingDefault bool) CheckResult {
		if usingDefault {
			return CheckResult{
				Name: name, Category: "config", Status: StatusWarn,
				Message: "Using derived default", Fix: "Set " + env + " for production",
			}
		}
		return CheckResult{Name: name, Category: "config", Status: StatusPass, Message: "Configured"}
	}
	return []CheckResult{
		keyCheck("sessions_key", "VEIL_SESSIONS_KEY", cfg.UsingDefaultSessionsKey()),
		keyCheck("signing_key", "VEIL_SIGNING_KEY", cfg.UsingDefaultSigningKey()),
	}
}

// checkDetection builds the engine from the configured pattern and lexicon
// files and runs it once over a known sample.
func checkDetection(ctx context.Context, cfg *config.Config) CheckResult {
	eng, err := engine.NewFromFiles(cfg.PatternsFile, cfg.LexiconFile)
	if err != nil {
		return CheckResult{
			Name: "detection_engine", Category: "detection", Status: StatusFail,
			Message: err.Error(),
			Fix:     "Fix or remove patterns_file / lexicon_file",
		}
	}
	det, err := eng.Detect(ctx, selfTestText, nil)
	if err != nil {
		return CheckResult{
			Name: "detection_engine", Category: "detection", Status: StatusFail,
			Message: fmt.Sprintf("Self-test failed: %v", err),
		}
	}
	for i := range det.Findings {
		if det.Findings[i].Category == pii.Email {
			return CheckResult{
				Name: "detection_engine", Category: "detection", Status: StatusPass,
				Message: fmt.Sprintf("patterns %s, lexicon %s", sourceLabel(cfg.PatternsFile), sourceLabel(cfg.LexiconFile)),
			}
		}
	}
	return CheckResult{
		Name: "detection_engine", Category: "detection", Status: StatusWarn,
		Message: "Self-test found no email address",
		Fix:     "Check that patterns_file does not disable the email recognizer",
	}
}

func sourceLabel(path string) string {
	if path == "" {
		return "embedded"
	}
	return path
}

// checkRulesDB reports stored custom rules whose pattern no longer compiles.
func checkRulesDB(ctx context.Context, cfg *config.Config) CheckResult {
	path := cfg.RulesDBPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return CheckResult{
			Name: "rules_db", Category: "stores", Status: StatusPass,
			Message: "No custom rules yet",
		}
	}
	store, err := rules.NewStore(path)
	if err != nil {
		return CheckResult{Name: "rules_db", Category: "stores", Status: StatusFail, Message: err.Error()}
	}
	defer store.Close()

	list, err := store.List(ctx)
	if err != nil {
		return CheckResult{Name: "rules_db", Category: "stores", Status: StatusFail, Message: err.Error()}
	}
	var broken []string
	for _, r := range list {
		if !r.Enabled {
			continue
		}
		if _, err := classifier.CompileRule(r.Pattern); err != nil {
			broken = append(broken, r.Name)
		}
	}
	if len(broken) > 0 {
		return CheckResult{
			Name: "rules_db", Category: "stores", Status: StatusWarn,
			Message: fmt.Sprintf("%d rule(s), invalid patterns: %v", len(list), broken),
			Fix:     "Fix or disable them with 'veil rules disable <id>'",
		}
	}
	return CheckResult{
		Name: "rules_db", Category: "stores", Status: StatusPass,
		Message: fmt.Sprintf("%d rule(s)", len(list)),
	}
}

func checkSessionsDB(cfg *config.Config) CheckResult {
	store, err := review.NewStore(cfg.SessionsDBPath(), cfg.SessionsKey)
	if err != nil {
		return CheckResult{Name: "sessions_db", Category: "stores", Status: StatusFail, Message: err.Error()}
	}
	_ = store.Close()
	return CheckResult{
		Name: "sessions_db", Category: "stores", Status: StatusPass,
		Message: fmt.Sprintf("%s (ttl %s)", cfg.SessionsDBPath(), cfg.SessionTTL),
	}
}

// checkEvidence opens the evidence store and verifies the signatures of the
// newest records. A record that fails verification was altered or signed
// with another key.
func checkEvidence(ctx context.Context, cfg *config.Config, opts Options) []CheckResult {
	store, err := evidence.NewStore(cfg.EvidenceDBPath(), cfg.SigningKey)
	if err != nil {
		return []CheckResult{{Name: "evidence_db", Category: "stores", Status: StatusFail, Message: err.Error()}}
	}
	defer store.Close()

	results := []CheckResult{{
		Name: "evidence_db", Category: "stores", Status: StatusPass,
		Message: cfg.EvidenceDBPath(),
	}}
	if opts.VerifyRecent <= 0 {
		return results
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	recent, err := store.List(ctx, evidence.Filter{Limit: opts.VerifyRecent})
	if err != nil {
		return append(results, CheckResult{
			Name: "evidence_signatures", Category: "stores", Status: StatusFail, Message: err.Error(),
		})
	}
	invalid := 0
	for i := range recent {
		valid, err := store.Verify(ctx, recent[i].ID)
		if err != nil || !valid {
			invalid++
		}
	}
	if invalid > 0 {
		return append(results, CheckResult{
			Name: "evidence_signatures", Category: "stores", Status: StatusFail,
			Message: fmt.Sprintf("%d of %d recent records fail verification", invalid, len(recent)),
			Fix:     "Check VEIL_SIGNING_KEY; records signed with another key cannot be verified",
		})
	}
	return append(results, CheckResult{
		Name: "evidence_signatures", Category: "stores", Status: StatusPass,
		Message: fmt.Sprintf("%d recent record(s) verified", len(recent)),
	})
}

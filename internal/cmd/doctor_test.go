package cmd

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dativo-io/veil/internal/doctor"
	"github.com/dativo-io/veil/internal/testutil"
)

func TestDoctorCmd_ShowsChecks(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("VEIL_DATA_DIR", dir)

	out, err := runCLI(t, "", "doctor")
	require.NoError(t, err, "default keys only warn")
	assert.Contains(t, out, "data_dir_writable")
	assert.Contains(t, out, dir)
	assert.Contains(t, out, "⚠ signing_key")
	assert.Contains(t, out, "→ Set VEIL_SIGNING_KEY for production")
	assert.Contains(t, out, "evidence_signatures")
	assert.Contains(t, out, "2 warnings, 0 failed")
}

func TestDoctorCmd_AllPass(t *testing.T) {
	t.Setenv("VEIL_DATA_DIR", t.TempDir())
	t.Setenv("VEIL_SESSIONS_KEY", testutil.TestSessionKeyHex)
	t.Setenv("VEIL_SIGNING_KEY", testutil.TestSigningKey)

	out, err := runCLI(t, "", "doctor", "--verify-recent", "0")
	require.NoError(t, err)
	assert.Contains(t, out, "0 warnings, 0 failed")
	assert.NotContains(t, out, "evidence_signatures")
}

func TestDoctorCmd_JSONFormat(t *testing.T) {
	out, err := runCLI(t, "", "doctor", "--format", "json")
	require.NoError(t, err)

	var report doctor.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, doctor.StatusWarn, report.Status)
	assert.NotEmpty(t, report.Checks)
}

func TestDoctorCmd_FailsOnTamperedEvidence(t *testing.T) {
	t.Setenv("VEIL_DATA_DIR", t.TempDir())
	_, err := runCLI(t, sampleText, "redact", "-")
	require.NoError(t, err)

	t.Setenv("VEIL_SIGNING_KEY", testutil.TestSigningKey)
	out, err := runCLI(t, "", "doctor")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "doctor checks failed")
	assert.Contains(t, out, "✗ evidence_signatures")
}

func TestDoctorCmd_UnknownFormat(t *testing.T) {
	_, err := runCLI(t, "", "doctor", "--format", "yaml")
	require.Error(t, err)
}

func TestRenderDoctorReport(t *testing.T) {
	report := &doctor.Report{
		Status: doctor.StatusFail,
		Checks: []doctor.CheckResult{
			{Name: "data_dir_writable", Category: "config", Status: doctor.StatusPass, Message: "/tmp/veil (writable)"},
			{Name: "rules_db", Category: "stores", Status: doctor.StatusFail, Message: "locked", Fix: "close other writers"},
		},
		Summary: doctor.Summary{Pass: 1, Fail: 1},
	}
	var buf bytes.Buffer
	renderDoctorReport(&buf, report)
	out := buf.String()
	assert.Contains(t, out, "[config]\n  ✓ data_dir_writable")
	assert.Contains(t, out, "\n[stores]\n  ✗ rules_db")
	assert.Contains(t, out, "    → close other writers")
	assert.Contains(t, out, "1 passed, 0 warnings, 1 failed")
}

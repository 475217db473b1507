package cmd

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dativo-io/veil/internal/evidence"
)

func listEvidence(t *testing.T) []evidence.Evidence {
	t.Helper()
	store, err := loadEvidenceStore()
	require.NoError(t, err)
	defer store.Close()
	list, err := store.List(context.Background(), evidence.Filter{})
	require.NoError(t, err)
	return list
}

func TestAuditCommand_HasSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range auditCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"list", "show", "verify", "export"} {
		assert.True(t, names[want], "audit %s should be registered", want)
	}
}

func TestAuditList_Empty(t *testing.T) {
	out, err := runCLI(t, "", "audit", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No evidence records found.")
}

func TestRedactRecordsEvidence(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "jane-doe.txt", sampleText)

	_, err := runCLI(t, "", "redact", path)
	require.NoError(t, err)

	list := listEvidence(t)
	require.Len(t, list, 1)
	ev := list[0]
	assert.Equal(t, "cli", ev.Caller)
	assert.Equal(t, evidence.OpCLIRedact, ev.Operation)
	assert.Equal(t, evidence.DocumentRef(path), ev.Document)
	assert.Equal(t, []string{"email"}, ev.Detection.Categories)

	out, err := runCLI(t, "", "audit", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Evidence Records (showing 1)")
	assert.Contains(t, out, "cli/cli_redact")

	out, err = runCLI(t, "", "audit", "show", ev.ID)
	require.NoError(t, err)
	assert.Contains(t, out, `"operation": "cli_redact"`)
	assert.NotContains(t, out, "jane@x.com")
	assert.NotContains(t, out, "jane-doe")

	out, err = runCLI(t, "", "audit", "verify", ev.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "signature VALID")
}

func TestRedactStdinEvidenceHasNoDocument(t *testing.T) {
	_, err := runCLI(t, sampleText, "redact", "-")
	require.NoError(t, err)
	list := listEvidence(t)
	require.Len(t, list, 1)
	assert.Empty(t, list[0].Document)
}

func TestBatchRecordsEvidencePerDocument(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", sampleText)
	writeFile(t, dir, "b.txt", "Call (555) 123-4567")

	_, err := runCLI(t, "", "batch", dir, "--out", filepath.Join(dir, "out"))
	require.NoError(t, err)

	out, err := runCLI(t, "", "audit", "list", "--operation", "batch")
	require.NoError(t, err)
	assert.Contains(t, out, "Evidence Records (showing 2)")

	out, err = runCLI(t, "", "audit", "list", "--operation", "cli_redact")
	require.NoError(t, err)
	assert.Contains(t, out, "No evidence records found.")
}

func TestAuditVerify_Missing(t *testing.T) {
	_, err := runCLI(t, "", "audit", "verify", "red_missing")
	require.ErrorIs(t, err, evidence.ErrNotFound)

	_, err = runCLI(t, "", "audit", "show", "red_missing")
	require.ErrorIs(t, err, evidence.ErrNotFound)
}

func TestAuditExport(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "cv.txt", sampleText)
	_, err := runCLI(t, "", "redact", path)
	require.NoError(t, err)

	out, err := runCLI(t, "", "audit", "export")
	require.NoError(t, err)
	rows, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "id", rows[0][0])

	out, err = runCLI(t, "", "audit", "export", "--format", "json")
	require.NoError(t, err)
	var records []evidence.ExportRecord
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "cli", records[0].Caller)

	target := filepath.Join(dir, "audit.csv")
	out, err = runCLI(t, "", "audit", "export", "-o", target)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.FileExists(t, target)

	_, err = runCLI(t, "", "audit", "export", "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown format")
}

func TestAuditList_Since(t *testing.T) {
	_, err := runCLI(t, sampleText, "redact", "-")
	require.NoError(t, err)

	out, err := runCLI(t, "", "audit", "list", "--since", "1h")
	require.NoError(t, err)
	assert.Contains(t, out, "showing 1")
}

func TestRenderAuditList(t *testing.T) {
	list := []evidence.Evidence{
		{
			ID:        "red_aaaa1111",
			Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			Caller:    "review-ui",
			Operation: evidence.OpSessionRedact,
			Detection: evidence.Detection{Findings: 3, Redacted: 2, Ignored: 1, Categories: []string{"email", "name"}},
		},
		{
			ID:        "red_bbbb2222",
			Timestamp: time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC),
			Caller:    "cli",
			Operation: evidence.OpBatch,
		},
	}
	var buf bytes.Buffer
	renderAuditList(&buf, list)
	out := buf.String()
	assert.Contains(t, out, "Evidence Records (showing 2):")
	assert.Contains(t, out, "red_aaaa1111")
	assert.Contains(t, out, "review-ui/session_redact | 2 redacted, 1 ignored | email,name")
	assert.Contains(t, out, "cli/batch | 0 redacted, 0 ignored | -")
}

func TestRenderVerifyResult(t *testing.T) {
	var buf bytes.Buffer
	renderVerifyResult(&buf, "red_x", true)
	assert.Contains(t, buf.String(), "✓ Evidence red_x: signature VALID")

	buf.Reset()
	renderVerifyResult(&buf, "red_x", false)
	assert.Contains(t, buf.String(), "✗ Evidence red_x: signature INVALID")
}

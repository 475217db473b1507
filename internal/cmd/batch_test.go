package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchCmd(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", sampleText)
	writeFile(t, dir, "b.md", "# Notes\nCall (555) 123-4567")
	writeFile(t, dir, "notes.xyz", "ignored")
	outDir := filepath.Join(t.TempDir(), "out")

	out, err := runCLI(t, "", "batch", dir, "--out", outDir)
	require.NoError(t, err)
	assert.Contains(t, out, "2 redacted, 0 failed")

	a, err := os.ReadFile(filepath.Join(outDir, "a.redacted.txt"))
	require.NoError(t, err)
	assert.Equal(t, "Email me at [email redacted] today", string(a))

	b, err := os.ReadFile(filepath.Join(outDir, "b.redacted.txt"))
	require.NoError(t, err)
	assert.NotContains(t, string(b), "123-4567")

	assert.NoFileExists(t, filepath.Join(outDir, "notes.redacted.txt"))
}

func TestBatchCmd_DefaultOutDirAndFailures(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "good.txt", sampleText)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.txt"), []byte{0xff, 0xfe, 0xfd}, 0o600))

	out, err := runCLI(t, "", "batch", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 documents failed")
	assert.Contains(t, out, "✗ bad.txt")
	assert.Contains(t, out, "✓ good.txt")
	assert.FileExists(t, filepath.Join(dir, "redacted", "good.redacted.txt"))
}

func TestBatchInputs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.PDF", "x")
	writeFile(t, dir, "a.docx", "x")
	writeFile(t, dir, "a.redacted.txt", "x")
	writeFile(t, dir, "c.png", "x")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.txt"), 0o755))

	got, err := batchInputs(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.docx"), filepath.Join(dir, "b.PDF")}, got)

	_, err = batchInputs(t.TempDir())
	assert.ErrorContains(t, err, "no supported documents")
}

package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigShowCmd_RunsAndShowsDataDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("VEIL_DATA_DIR", dir)

	out, err := runCLI(t, "", "config", "show")
	require.NoError(t, err)

	assert.Contains(t, out, "Data directory:")
	assert.Contains(t, out, dir)
	assert.Contains(t, out, "(exists)")
	assert.Contains(t, out, "Rules DB:")
	assert.Contains(t, out, "Sessions DB:")
	assert.Contains(t, out, "Evidence DB:")
	assert.Contains(t, out, "Signing key:        derived default (set VEIL_SIGNING_KEY)")
	assert.Contains(t, out, "Offload threshold:  5000 runes")
	assert.Contains(t, out, "Rate limit:         600 requests/min")
	assert.Contains(t, out, "Patterns file:      (embedded)")
}

func TestConfigShowCmd_ExplicitValues(t *testing.T) {
	t.Setenv("VEIL_DATA_DIR", t.TempDir())
	t.Setenv("VEIL_SESSIONS_KEY", "abcdefghijklmnopqrstuvwxyz012345")
	t.Setenv("VEIL_SIGNING_KEY", "signing-key-abcdefghijklmnopqrstuvwxyz")
	t.Setenv("VEIL_RATE_LIMIT_RPM", "0")

	out, err := runCLI(t, "", "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "Sessions key:       set")
	assert.Contains(t, out, "Signing key:        set")
	assert.Contains(t, out, "Rate limit:         disabled")
}

func TestConfigShowCmd_InvalidKey(t *testing.T) {
	t.Setenv("VEIL_DATA_DIR", t.TempDir())
	t.Setenv("VEIL_SESSIONS_KEY", "too-short")

	_, err := runCLI(t, "", "config", "show")
	require.Error(t, err)
}

func TestDirExists(t *testing.T) {
	dir := t.TempDir()
	assert.True(t, dirExists(dir))
	assert.False(t, dirExists(filepath.Join(dir, "nonexistent")))
	f := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(f, []byte("x"), 0o600))
	assert.False(t, dirExists(f))
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(f, []byte("x"), 0o600))
	assert.True(t, fileExists(f))
	assert.False(t, fileExists(filepath.Join(dir, "nonexistent")))
	assert.False(t, fileExists(dir))
}

package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dativo-io/veil/internal/cryptoutil"
	"github.com/dativo-io/veil/internal/testutil"
)

func resetViper(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		KeyDataDir, KeySessionsKey, KeySigningKey, KeyOffloadThreshold, KeyOffloadTimeout, KeyWorkers,
		KeySessionTTL, KeyPurgeSchedule, KeyMaxDocumentMB, KeyPatternsFile, KeyLexiconFile, KeyRateLimitRPM,
	} {
		t.Setenv("VEIL_"+strings.ToUpper(key), "")
	}
	viper.Reset()
	SetDefaults()
}

func TestLoad_Defaults(t *testing.T) {
	resetViper(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultOffloadThreshold, cfg.OffloadThreshold)
	assert.Equal(t, DefaultOffloadTimeout, cfg.OffloadTimeout)
	assert.Equal(t, DefaultWorkers, cfg.Workers)
	assert.Equal(t, DefaultSessionTTL, cfg.SessionTTL)
	assert.Equal(t, DefaultPurgeSchedule, cfg.PurgeSchedule)
	assert.Equal(t, DefaultMaxDocumentMB, cfg.MaxDocumentMB)
	assert.Equal(t, DefaultRateLimitRPM, cfg.RateLimitRPM)
	assert.Empty(t, cfg.PatternsFile)
	assert.True(t, cfg.UsingDefaultSessionsKey())
	assert.True(t, cfg.UsingDefaultSigningKey())
	assert.NotEqual(t, cfg.SessionsKey, cfg.SigningKey, "each key is derived with its own salt")

	_, err = cryptoutil.ResolveKey(cfg.SessionsKey)
	assert.NoError(t, err, "derived key must be usable")
}

func TestLoad_DerivedKeyIsStablePerDataDir(t *testing.T) {
	resetViper(t)
	dir := t.TempDir()
	t.Setenv("VEIL_DATA_DIR", dir)

	a, err := Load()
	require.NoError(t, err)
	b, err := Load()
	require.NoError(t, err)
	assert.Equal(t, a.SessionsKey, b.SessionsKey)

	t.Setenv("VEIL_DATA_DIR", t.TempDir())
	c, err := Load()
	require.NoError(t, err)
	assert.NotEqual(t, a.SessionsKey, c.SessionsKey)
}

func TestLoad_ExplicitValues(t *testing.T) {
	resetViper(t)
	dir := t.TempDir()
	t.Setenv("VEIL_DATA_DIR", dir)
	t.Setenv("VEIL_SESSIONS_KEY", testutil.TestSessionKeyHex)
	t.Setenv("VEIL_SIGNING_KEY", "test-signing-key-1234567890123456")
	t.Setenv("VEIL_OFFLOAD_THRESHOLD", "100")
	t.Setenv("VEIL_OFFLOAD_TIMEOUT", "250ms")
	t.Setenv("VEIL_WORKERS", "2")
	t.Setenv("VEIL_SESSION_TTL", "30m")
	t.Setenv("VEIL_PATTERNS_FILE", "/etc/veil/patterns.yaml")
	t.Setenv("VEIL_RATE_LIMIT_RPM", "0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, testutil.TestSessionKeyHex, cfg.SessionsKey)
	assert.False(t, cfg.UsingDefaultSessionsKey())
	assert.False(t, cfg.UsingDefaultSigningKey())
	assert.Equal(t, 100, cfg.OffloadThreshold)
	assert.Equal(t, 250*time.Millisecond, cfg.OffloadTimeout)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, 30*time.Minute, cfg.SessionTTL)
	assert.Equal(t, "/etc/veil/patterns.yaml", cfg.PatternsFile)
	assert.Equal(t, 0, cfg.RateLimitRPM)
	assert.Equal(t, filepath.Join(dir, "rules.db"), cfg.RulesDBPath())
	assert.Equal(t, filepath.Join(dir, "sessions.db"), cfg.SessionsDBPath())
	assert.Equal(t, filepath.Join(dir, "evidence.db"), cfg.EvidenceDBPath())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		env     string
		value   string
		wantErr string
	}{
		{"VEIL_SESSIONS_KEY", "too-short", "sessions_key"},
		{"VEIL_SIGNING_KEY", "too-short", "signing_key"},
		{"VEIL_OFFLOAD_THRESHOLD", "0", "offload_threshold"},
		{"VEIL_OFFLOAD_TIMEOUT", "-1s", "offload_timeout"},
		{"VEIL_WORKERS", "0", "workers"},
		{"VEIL_SESSION_TTL", "0s", "session_ttl"},
		{"VEIL_MAX_DOCUMENT_MB", "0", "max_document_mb"},
		{"VEIL_RATE_LIMIT_RPM", "-5", "rate_limit_rpm"},
	}
	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			resetViper(t)
			t.Setenv(tt.env, tt.value)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEnsureDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "veil")
	cfg := &Config{DataDir: dir}
	require.NoError(t, cfg.EnsureDataDir())
	assert.DirExists(t, dir)
}

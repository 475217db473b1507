// Package config holds operator-level configuration for a veil process:
// where state lives, the session encryption and evidence signing keys,
// detection dispatch limits and the API rate limit.
//
// Values come from viper, which merges command-line flags, VEIL_* env vars,
// veil.config.yaml and the defaults registered in init. A .env file in the
// working directory is loaded best-effort before the env vars are read.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/dativo-io/veil/internal/cryptoutil"
	"github.com/dativo-io/veil/internal/evidence"
)

// Viper keys. Each maps to an env var with the VEIL_ prefix
// (e.g. "sessions_key" → VEIL_SESSIONS_KEY) and to a YAML field in
// veil.config.yaml.
const (
	KeyDataDir          = "data_dir"
	KeySessionsKey      = "sessions_key"
	KeySigningKey       = "signing_key"
	KeyOffloadThreshold = "offload_threshold"
	KeyOffloadTimeout   = "offload_timeout"
	KeyWorkers          = "workers"
	KeySessionTTL       = "session_ttl"
	KeyPurgeSchedule    = "purge_schedule"
	KeyMaxDocumentMB    = "max_document_mb"
	KeyPatternsFile     = "patterns_file"
	KeyLexiconFile      = "lexicon_file"
	KeyRateLimitRPM     = "rate_limit_rpm"
)

// Defaults that do not involve key material.
const (
	DefaultOffloadThreshold = 5000
	DefaultOffloadTimeout   = 10 * time.Second
	DefaultWorkers          = 4
	DefaultSessionTTL       = 24 * time.Hour
	DefaultPurgeSchedule    = "@hourly"
	DefaultMaxDocumentMB    = 10
	DefaultRateLimitRPM     = 600
)

// Config is the resolved configuration.
type Config struct {
	DataDir          string        // base directory for all state (~/.veil)
	SessionsKey      string        // secretbox key for review sessions (32 bytes or 64 hex)
	SigningKey       string        // HMAC key for redaction evidence (32+ bytes or 64+ hex)
	OffloadThreshold int           // rune count above which detection is offloaded
	OffloadTimeout   time.Duration // wait for an offloaded result before running inline
	Workers          int           // detection worker goroutines
	SessionTTL       time.Duration
	PurgeSchedule    string
	MaxDocumentMB    int
	PatternsFile     string // optional recognizer override YAML
	LexiconFile      string // optional name lexicon override YAML
	RateLimitRPM     int    // API requests per minute per client, 0 disables

	usingDefaultSessionsKey bool
	usingDefaultSigningKey  bool
}

// UsingDefaultSessionsKey reports whether the session key was derived
// rather than set.
func (c *Config) UsingDefaultSessionsKey() bool {
	return c.usingDefaultSessionsKey
}

// UsingDefaultSigningKey reports whether the evidence signing key was
// derived rather than set.
func (c *Config) UsingDefaultSigningKey() bool {
	return c.usingDefaultSigningKey
}

// RulesDBPath returns the path of the custom rules database.
func (c *Config) RulesDBPath() string {
	return filepath.Join(c.DataDir, "rules.db")
}

// SessionsDBPath returns the path of the review sessions database.
func (c *Config) SessionsDBPath() string {
	return filepath.Join(c.DataDir, "sessions.db")
}

// EvidenceDBPath returns the path of the redaction evidence database.
func (c *Config) EvidenceDBPath() string {
	return filepath.Join(c.DataDir, "evidence.db")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o700)
}

// WarnIfDefaultKeys logs a warning for every key that was not set.
func (c *Config) WarnIfDefaultKeys() {
	if c.usingDefaultSessionsKey {
		log.Warn().Msg("Using generated default VEIL_SESSIONS_KEY; set it via env var or config file for production")
	}
	if c.usingDefaultSigningKey {
		log.Warn().Msg("Using generated default VEIL_SIGNING_KEY; set it via env var or config file for production")
	}
}

func init() {
	_ = godotenv.Load()
	SetDefaults()
}

// SetDefaults registers the env prefix and default values with viper.
func SetDefaults() {
	viper.SetEnvPrefix("VEIL")
	viper.AutomaticEnv()
	viper.SetDefault(KeyOffloadThreshold, DefaultOffloadThreshold)
	viper.SetDefault(KeyOffloadTimeout, DefaultOffloadTimeout)
	viper.SetDefault(KeyWorkers, DefaultWorkers)
	viper.SetDefault(KeySessionTTL, DefaultSessionTTL)
	viper.SetDefault(KeyPurgeSchedule, DefaultPurgeSchedule)
	viper.SetDefault(KeyMaxDocumentMB, DefaultMaxDocumentMB)
	viper.SetDefault(KeyRateLimitRPM, DefaultRateLimitRPM)
}

// Load reads configuration from viper and returns a validated Config.
func Load() (*Config, error) {
	cfg := &Config{
		DataDir:          resolveDataDir(),
		SessionsKey:      viper.GetString(KeySessionsKey),
		SigningKey:       viper.GetString(KeySigningKey),
		OffloadThreshold: viper.GetInt(KeyOffloadThreshold),
		OffloadTimeout:   viper.GetDuration(KeyOffloadTimeout),
		Workers:          viper.GetInt(KeyWorkers),
		SessionTTL:       viper.GetDuration(KeySessionTTL),
		PurgeSchedule:    viper.GetString(KeyPurgeSchedule),
		MaxDocumentMB:    viper.GetInt(KeyMaxDocumentMB),
		PatternsFile:     viper.GetString(KeyPatternsFile),
		LexiconFile:      viper.GetString(KeyLexiconFile),
		RateLimitRPM:     viper.GetInt(KeyRateLimitRPM),
	}

	if cfg.SessionsKey == "" {
		cfg.SessionsKey = deriveDefaultKey(cfg.DataDir, "review-sessions")
		cfg.usingDefaultSessionsKey = true
	}
	if cfg.SigningKey == "" {
		cfg.SigningKey = deriveDefaultKey(cfg.DataDir, "evidence-signing")
		cfg.usingDefaultSigningKey = true
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func resolveDataDir() string {
	if dir := viper.GetString(KeyDataDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".veil"
	}
	return filepath.Join(home, ".veil")
}

// deriveDefaultKey produces a deterministic per-machine fallback key from
// the data directory and a salt. It is not a secret; it only keeps a fresh
// install working while still sealing sessions at rest.
func deriveDefaultKey(dataDir, salt string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("veil:%s:%s", dataDir, salt)))
	return hex.EncodeToString(h[:])
}

func (c *Config) validate() error {
	if _, err := cryptoutil.ResolveKey(c.SessionsKey); err != nil {
		return fmt.Errorf("sessions_key: %w; set VEIL_SESSIONS_KEY", err)
	}
	if _, err := evidence.ResolveSigningKey(c.SigningKey); err != nil {
		return fmt.Errorf("signing_key: %w; set VEIL_SIGNING_KEY", err)
	}
	switch {
	case c.OffloadThreshold <= 0:
		return fmt.Errorf("offload_threshold must be positive")
	case c.OffloadTimeout <= 0:
		return fmt.Errorf("offload_timeout must be positive")
	case c.Workers <= 0:
		return fmt.Errorf("workers must be positive")
	case c.SessionTTL <= 0:
		return fmt.Errorf("session_ttl must be positive")
	case c.MaxDocumentMB <= 0:
		return fmt.Errorf("max_document_mb must be positive")
	case c.RateLimitRPM < 0:
		return fmt.Errorf("rate_limit_rpm must not be negative")
	}
	return nil
}

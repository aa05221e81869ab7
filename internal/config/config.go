package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/holdfast-sec/holdfast/internal/alert"
	"github.com/holdfast-sec/holdfast/internal/model"
	"github.com/holdfast-sec/holdfast/internal/ratelimit"
)

// Config holds all configurable parameters for the holdfast daemon.
type Config struct {
	ListenAddr string          `yaml:"listen_addr"`
	Directory  DirectoryConfig `yaml:"directory"`
	Access     AccessConfig    `yaml:"access"`
	Session    SessionConfig   `yaml:"session"`
	RateLimits ratelimit.Rules `yaml:"rate_limits"`
	Audit      AuditConfig     `yaml:"audit"`
	Alerts     []alert.Config  `yaml:"alerts"`
}

// DirectoryConfig locates the workspace/agent/permission snapshot.
type DirectoryConfig struct {
	SnapshotPath string `yaml:"snapshot_path"`
}

// AccessConfig tunes the permission resolver.
type AccessConfig struct {
	CacheTTL time.Duration `yaml:"cache_ttl"`
	// DefaultMemberLevel is the permission granted to workspace members
	// with no explicit record. "none" requires every member to hold one.
	DefaultMemberLevel string `yaml:"default_member_level"`
}

// SessionConfig tunes session token issuance and fingerprint binding.
type SessionConfig struct {
	TokenTTL    time.Duration `yaml:"token_ttl"`
	RotateAfter time.Duration `yaml:"rotate_after"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	IPSalt      string        `yaml:"ip_salt"`
}

// AuditConfig locates the audit chain and query store.
type AuditConfig struct {
	ChainPath     string        `yaml:"chain_path"`
	DBPath        string        `yaml:"db_path"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// DefaultConfig returns the built-in configuration. Data files live under
// ~/.holdfast; when the home directory cannot be resolved the paths are
// relative to the working directory.
func DefaultConfig() *Config {
	base := ".holdfast"
	if home, err := os.UserHomeDir(); err == nil {
		base = filepath.Join(home, ".holdfast")
	}
	return &Config{
		ListenAddr: "127.0.0.1:8470",
		Directory: DirectoryConfig{
			SnapshotPath: filepath.Join(base, "directory.yaml"),
		},
		Access: AccessConfig{
			CacheTTL:           10 * time.Minute,
			DefaultMemberLevel: "read",
		},
		Session: SessionConfig{
			TokenTTL:    24 * time.Hour,
			RotateAfter: 2 * time.Hour,
			IdleTimeout: time.Hour,
		},
		RateLimits: ratelimit.DefaultRules(),
		Audit: AuditConfig{
			ChainPath:     filepath.Join(base, "audit.log"),
			DBPath:        filepath.Join(base, "audit.db"),
			BatchSize:     64,
			FlushInterval: 2 * time.Second,
		},
	}
}

// LoadConfig loads configuration from a YAML file.
// Empty path falls back to ~/.holdfast/config.yaml.
// Missing file returns defaults. Invalid YAML returns an error.
func LoadConfig(path string) (*Config, error) {
	cfg, _, err := LoadConfigWithHash(path)
	return cfg, err
}

// LoadConfigWithHash loads configuration and returns its SHA-256 hash.
// The hash is computed over the raw YAML bytes on disk.
// When no file exists (defaults used), the hash is the SHA-256 of empty input.
func LoadConfigWithHash(path string) (*Config, string, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			h := sha256.Sum256(nil)
			return DefaultConfig(), "sha256:" + hex.EncodeToString(h[:]), nil
		}
		path = filepath.Join(home, ".holdfast", "config.yaml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			h := sha256.Sum256(nil)
			return DefaultConfig(), "sha256:" + hex.EncodeToString(h[:]), nil
		}
		return nil, "", fmt.Errorf("failed to read config: %w", err)
	}

	h := sha256.Sum256(data)
	hash := "sha256:" + hex.EncodeToString(h[:])

	// Start with defaults, YAML overwrites only specified fields.
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid config: %w", err)
	}

	return cfg, hash, nil
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	if c.Access.CacheTTL < 0 {
		return fmt.Errorf("access.cache_ttl must not be negative")
	}
	if c.Access.DefaultMemberLevel != "" {
		if _, err := model.ParsePermissionLevel(c.Access.DefaultMemberLevel); err != nil {
			return fmt.Errorf("access.default_member_level: %w", err)
		}
	}
	if c.Session.TokenTTL < 0 {
		return fmt.Errorf("session.token_ttl must not be negative")
	}
	if c.Session.RotateAfter < 0 {
		return fmt.Errorf("session.rotate_after must not be negative")
	}
	if c.Session.IdleTimeout < 0 {
		return fmt.Errorf("session.idle_timeout must not be negative")
	}
	if err := c.RateLimits.Validate(); err != nil {
		return fmt.Errorf("rate_limits: %w", err)
	}
	if c.Audit.BatchSize < 0 {
		return fmt.Errorf("audit.batch_size must not be negative")
	}
	if c.Audit.FlushInterval < 0 {
		return fmt.Errorf("audit.flush_interval must not be negative")
	}
	for i, a := range c.Alerts {
		if a.URL == "" {
			return fmt.Errorf("alerts[%d]: url must not be empty", i)
		}
		switch a.Format {
		case "", "generic", "slack", "pagerduty":
		default:
			return fmt.Errorf("alerts[%d]: unknown format %q", i, a.Format)
		}
		if a.MinSeverity != "" {
			if _, err := model.ParseSeverity(string(a.MinSeverity)); err != nil {
				return fmt.Errorf("alerts[%d]: min_severity: %w", i, err)
			}
		}
	}
	return nil
}

// DefaultConfigYAML returns a commented YAML string for holdfast init.
func DefaultConfigYAML() string {
	return `# holdfast daemon configuration
# Generated by: holdfast init
#
# Decision pipeline (cannot be reordered):
#   1. Emergency controls (lockdown, quarantine) -> deny
#   2. Rate limits (sliding window per rule below) -> deny
#   3. Permission resolution (owner > explicit record > member default)
#   4. Access evaluation (workspace boundary is checked first, always)
#   5. Session validation (token signature, fingerprint, ip binding)
# Every decision is written to the hash-chained audit log exactly once.

# Address the HTTP API listens on.
listen_addr: "127.0.0.1:8470"

# Workspace, agent, and permission records are loaded from this snapshot.
# Defaults to ~/.holdfast/directory.yaml when unset.
directory:
  # snapshot_path: /var/lib/holdfast/directory.yaml

# Permission resolver tuning.
access:
  cache_ttl: 10m
  # Level granted to members with no explicit permission record.
  # One of: none | read | write | admin.
  # "none" means membership alone grants nothing.
  default_member_level: read

# Session token issuance.
session:
  token_ttl: 24h      # natural expiry of an issued token
  rotate_after: 2h    # tokens older than this rotate on next valid use
  idle_timeout: 1h    # sessions idle longer than this are ended
  ip_salt: ""         # salt for ip hashes in tokens and audit records

# Sliding-window rate limits. A rule with block > 0 escalates an exceeded
# window into a hard block until the block expires.
rate_limits:
  decision:
    requests: 120
    window: 1m
  session_create:
    requests: 30
    window: 1m
  auth_failure:
    requests: 5
    window: 5m
    block: 15m

# Audit pipeline. The chain file is append-only and hash-linked; the
# database serves queries and summaries. Paths default to
# ~/.holdfast/audit.log and ~/.holdfast/audit.db when unset.
audit:
  # chain_path: /var/lib/holdfast/audit.log
  # db_path: /var/lib/holdfast/audit.db
  batch_size: 64
  flush_interval: 2s

# Webhook alert destinations. Each destination matches events at or above
# min_severity, or whose type is listed in events.
# Formats: generic | slack | pagerduty.
alerts: []
#  - url: https://hooks.slack.com/services/T000/B000/XXXX
#    format: slack
#    min_severity: high
#  - url: https://alerts.example.com/holdfast
#    format: generic
#    events: [lockdown_set, session_revoked]
`
}

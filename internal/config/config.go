// Package config provides configuration types and loading for ExecGuard.
package config

import "time"

// Config is the top-level configuration for the ExecGuard daemon.
type Config struct {
	// Server configures the admin HTTP listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Policy selects the active authorization policy.
	Policy PolicyConfig `yaml:"policy" mapstructure:"policy"`

	// Approval configures the approval session store and sweeper.
	Approval ApprovalConfig `yaml:"approval" mapstructure:"approval"`

	// Ledger configures certificate chain persistence.
	Ledger LedgerConfig `yaml:"ledger" mapstructure:"ledger"`

	// Audit configures the audit trail pipeline and file store.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// Auth configures admin API authentication.
	Auth AuthConfig `yaml:"auth" mapstructure:"auth"`
}

// ServerConfig configures the admin HTTP server.
type ServerConfig struct {
	// HTTPAddr is the listen address. Defaults to localhost only;
	// network exposure requires an explicit ":8787" or "0.0.0.0:8787".
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// PolicyConfig selects the active policy.
type PolicyConfig struct {
	// Profile names a built-in profile: permissive, strict, lockdown.
	// Ignored when ProfilePath is set.
	Profile string `yaml:"profile" mapstructure:"profile" validate:"omitempty,oneof=permissive strict lockdown"`
	// ProfilePath points at a YAML policy file.
	ProfilePath string `yaml:"profile_path" mapstructure:"profile_path"`
	// CacheSize bounds the authorization decision cache.
	CacheSize int `yaml:"cache_size" mapstructure:"cache_size" validate:"omitempty,min=1,max=100000"`
}

// ApprovalConfig configures approval session handling.
type ApprovalConfig struct {
	// Expiry is the decision window for new sessions.
	Expiry time.Duration `yaml:"expiry" mapstructure:"expiry"`
	// HistoryCap bounds the decided-session buffer.
	HistoryCap int `yaml:"history_cap" mapstructure:"history_cap" validate:"omitempty,min=1,max=10000"`
	// SweepInterval is how often expired sessions are reaped.
	SweepInterval time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval"`
}

// LedgerConfig configures the certificate ledger.
type LedgerConfig struct {
	// Backend is one of file, sqlite, memory.
	Backend string `yaml:"backend" mapstructure:"backend" validate:"omitempty,oneof=file sqlite memory"`
	// Path is the ledger file or database path. Required for the
	// file and sqlite backends.
	Path string `yaml:"path" mapstructure:"path"`
	// SignerKeyPath is the ed25519 seed file used for signing.
	// When the file does not exist a new key is generated there.
	SignerKeyPath string `yaml:"signer_key_path" mapstructure:"signer_key_path"`
	// MaxCertificateAge bounds how old a certificate may be before
	// verification flags it as stale.
	MaxCertificateAge time.Duration `yaml:"max_certificate_age" mapstructure:"max_certificate_age"`
}

// AuditConfig configures the audit pipeline.
type AuditConfig struct {
	// Dir is the directory for audit log files. Empty disables the
	// file store; records then go to the process log only.
	Dir string `yaml:"dir" mapstructure:"dir"`
	// RetentionDays is how long rotated files are kept.
	RetentionDays int `yaml:"retention_days" mapstructure:"retention_days" validate:"omitempty,min=1,max=3650"`
	// MaxFileSizeMB triggers size-based rotation.
	MaxFileSizeMB int `yaml:"max_file_size_mb" mapstructure:"max_file_size_mb" validate:"omitempty,min=1,max=10240"`
	// ChannelSize is the async pipeline buffer.
	ChannelSize int `yaml:"channel_size" mapstructure:"channel_size" validate:"omitempty,min=1,max=1000000"`
	// BatchSize is the per-flush batch limit.
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size" validate:"omitempty,min=1,max=100000"`
	// FlushInterval is the periodic flush cadence.
	FlushInterval time.Duration `yaml:"flush_interval" mapstructure:"flush_interval"`
}

// AuthConfig configures admin API authentication.
type AuthConfig struct {
	// APIKeyHashes lists accepted key hashes (argon2id PHC or sha256
	// hex). Empty disables auth; only safe bound to localhost.
	APIKeyHashes []string `yaml:"api_key_hashes" mapstructure:"api_key_hashes"`
}

// SetDefaults applies default values to unset fields.
func (c *Config) SetDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8787"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}

	if c.Policy.Profile == "" && c.Policy.ProfilePath == "" {
		c.Policy.Profile = "strict"
	}
	if c.Policy.CacheSize == 0 {
		c.Policy.CacheSize = 1024
	}

	if c.Approval.Expiry == 0 {
		c.Approval.Expiry = 5 * time.Minute
	}
	if c.Approval.HistoryCap == 0 {
		c.Approval.HistoryCap = 50
	}
	if c.Approval.SweepInterval == 0 {
		c.Approval.SweepInterval = 30 * time.Second
	}

	if c.Ledger.Backend == "" {
		c.Ledger.Backend = "file"
	}
	if c.Ledger.Path == "" {
		switch c.Ledger.Backend {
		case "file":
			c.Ledger.Path = "execguard-ledger.jsonl"
		case "sqlite":
			c.Ledger.Path = "execguard-ledger.db"
		}
	}
	if c.Ledger.SignerKeyPath == "" {
		c.Ledger.SignerKeyPath = "execguard-signer.key"
	}
	if c.Ledger.MaxCertificateAge == 0 {
		c.Ledger.MaxCertificateAge = 24 * time.Hour
	}

	if c.Audit.RetentionDays == 0 {
		c.Audit.RetentionDays = 7
	}
	if c.Audit.MaxFileSizeMB == 0 {
		c.Audit.MaxFileSizeMB = 100
	}
	if c.Audit.ChannelSize == 0 {
		c.Audit.ChannelSize = 1000
	}
	if c.Audit.BatchSize == 0 {
		c.Audit.BatchSize = 100
	}
	if c.Audit.FlushInterval == 0 {
		c.Audit.FlushInterval = time.Second
	}
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty, standard locations are searched for
// execguard.yaml/.yml. The search requires an explicit YAML extension so
// Viper never matches the binary itself.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file found. Set name/type without search paths so
		// ReadInConfig returns ConfigFileNotFoundError, which callers
		// treat as env-only configuration.
		viper.SetConfigName("execguard")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: EXECGUARD_SERVER_HTTP_ADDR
	viper.SetEnvPrefix("EXECGUARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for an execguard config file
// with an explicit YAML extension.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".execguard"),
		"/etc/execguard",
	}
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "execguard"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds nested config keys for environment overrides.
// Example: EXECGUARD_LEDGER_BACKEND overrides ledger.backend
func bindNestedEnvKeys() {
	_ = viper.BindEnv("server.http_addr")
	_ = viper.BindEnv("server.log_level")

	_ = viper.BindEnv("policy.profile")
	_ = viper.BindEnv("policy.profile_path")
	_ = viper.BindEnv("policy.cache_size")

	_ = viper.BindEnv("approval.expiry")
	_ = viper.BindEnv("approval.history_cap")
	_ = viper.BindEnv("approval.sweep_interval")

	_ = viper.BindEnv("ledger.backend")
	_ = viper.BindEnv("ledger.path")
	_ = viper.BindEnv("ledger.signer_key_path")
	_ = viper.BindEnv("ledger.max_certificate_age")

	_ = viper.BindEnv("audit.dir")
	_ = viper.BindEnv("audit.retention_days")
	_ = viper.BindEnv("audit.max_file_size_mb")
	_ = viper.BindEnv("audit.channel_size")
	_ = viper.BindEnv("audit.batch_size")
	_ = viper.BindEnv("audit.flush_interval")

	// auth.api_key_hashes is an array; use the config file for it.
}

// Load reads the configuration file, applies environment overrides and
// defaults, validates, and returns the Config.
func Load() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; continue with env vars only.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// ConfigFileUsed returns the path of the loaded config file, or an empty
// string in env-only mode.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// fileBase is the config file name without extension.
const fileBase = "sentinel-bridge"

// InitViper initializes Viper with the configuration file and environment variables.
// If configFile is empty, it searches for sentinel-bridge.yaml/.yml in standard
// locations. The search requires an explicit YAML extension so the binary
// itself (same base name) never matches.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// ReadInConfig then returns ConfigFileNotFoundError, which LoadConfig tolerates.
		viper.SetConfigName(fileBase)
		viper.SetConfigType("yaml")
	}

	// Environment variable support: SENTINEL_BRIDGE_POLICY_FILE
	viper.SetEnvPrefix("SENTINEL_BRIDGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for a config file.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".sentinel-bridge"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "sentinel-bridge"))
		}
	} else {
		paths = append(paths, "/etc/sentinel-bridge")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for sentinel-bridge.yaml or .yml.
// Returns the full path of the first match, or empty string if none found.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, fileBase+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds scalar config keys so nested values can be set
// from the environment. Example: SENTINEL_BRIDGE_OBSERVER_ADDR overrides
// observer.addr. List values (upstream.args, observer.allowed_origins)
// belong in the config file.
func bindNestedEnvKeys() {
	for _, key := range []string{
		"upstream.command",
		"upstream.dir",
		"upstream.stop_timeout",
		"upstream.drain_timeout",
		"upstream.max_frame_size",

		"policy.file",
		"policy.agent_id",
		"policy.timeout",
		"policy.serialize",
		"policy.sandbox_root",
		"policy.breaker_failures",
		"policy.breaker_cooldown",
		"policy.cache_size",

		"observer.enabled",
		"observer.addr",
		"observer.token_hash",
		"observer.buffer_size",
		"observer.batch_size",
		"observer.flush_interval",
		"observer.send_timeout",
		"observer.ring_size",
		"observer.event_log",
		"observer.event_dir",
		"observer.retention_days",
		"observer.max_file_mb",
		"observer.forward_url",
		"observer.forward_attempts",

		"tracing.enabled",
		"tracing.output",

		"logging.level",
		"logging.file",

		"scan.tool",
	} {
		_ = viper.BindEnv(key)
	}
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and validates the result.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigRaw reads the configuration and applies defaults without
// validating. Callers apply CLI overrides and then call Validate.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file: environment and defaults only.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was loaded.
// Returns an empty string if no config file was found.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}

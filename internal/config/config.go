// Package config provides configuration types for sentinel-bridge.
//
// Configuration is file based (sentinel-bridge.yaml) with environment
// overrides (SENTINEL_BRIDGE_POLICY_FILE, ...). The tool server command line
// usually comes from the CLI ("sentinel-bridge start -- <cmd>") and only
// falls back to upstream.command.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration for the bridge.
type Config struct {
	// Upstream configures the downstream tool server process.
	Upstream UpstreamConfig `yaml:"upstream" mapstructure:"upstream"`

	// Policy configures the gateway that checks calls and responses.
	Policy PolicyConfig `yaml:"policy" mapstructure:"policy"`

	// Observer configures event recording and the local dashboard.
	Observer ObserverConfig `yaml:"observer" mapstructure:"observer"`

	// Tracing configures per-frame OpenTelemetry spans.
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`

	// Logging configures the diagnostic log written to stderr.
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`

	// Scan configures the external scanner used by "sentinel-bridge scan".
	Scan ScanConfig `yaml:"scan" mapstructure:"scan"`
}

// UpstreamConfig configures the tool server subprocess.
type UpstreamConfig struct {
	// Command is the executable used when none is given on the command line.
	Command string `yaml:"command" mapstructure:"command"`

	// Args are passed to Command.
	Args []string `yaml:"args" mapstructure:"args"`

	// Dir is the working directory of the server process (and of scan mode).
	Dir string `yaml:"dir" mapstructure:"dir" validate:"omitempty,dir"`

	// StopTimeout is the grace period between the stop signal and kill.
	StopTimeout string `yaml:"stop_timeout" mapstructure:"stop_timeout" validate:"duration"`

	// DrainTimeout bounds response delivery after the server exits.
	DrainTimeout string `yaml:"drain_timeout" mapstructure:"drain_timeout" validate:"duration"`

	// MaxFrameSize bounds one line in bytes. 0 selects 16 MiB.
	MaxFrameSize int `yaml:"max_frame_size" mapstructure:"max_frame_size" validate:"gte=0"`
}

// PolicyConfig configures the gateway.
type PolicyConfig struct {
	// File is the YAML policy document. Empty runs the built-in rules.
	File string `yaml:"file" mapstructure:"file" validate:"omitempty,file"`

	// AgentID identifies the client in decisions and events.
	AgentID string `yaml:"agent_id" mapstructure:"agent_id" validate:"required"`

	// Timeout bounds a single gateway call. A timeout fails open.
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"duration"`

	// Serialize wraps gateway calls in a mutex.
	Serialize bool `yaml:"serialize" mapstructure:"serialize"`

	// SandboxRoot overrides the policy file's sandbox_root.
	SandboxRoot string `yaml:"sandbox_root" mapstructure:"sandbox_root"`

	// BreakerFailures opens the breaker after this many consecutive gateway
	// failures. 0 disables the breaker.
	BreakerFailures uint32 `yaml:"breaker_failures" mapstructure:"breaker_failures"`

	// BreakerCooldown is how long the breaker stays open.
	BreakerCooldown string `yaml:"breaker_cooldown" mapstructure:"breaker_cooldown" validate:"duration"`

	// CacheSize bounds the decision cache. 0 selects the default.
	CacheSize int `yaml:"cache_size" mapstructure:"cache_size" validate:"gte=0"`
}

// ObserverConfig configures event recording.
type ObserverConfig struct {
	// Enabled turns on the observer and its dashboard. Defaults to true.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Addr is the dashboard listen address.
	Addr string `yaml:"addr" mapstructure:"addr" validate:"omitempty,hostport"`

	// TokenHash guards /events. Argon2id PHC string or "sha256:<hex>".
	TokenHash string `yaml:"token_hash" mapstructure:"token_hash" validate:"omitempty,startswith=$argon2id$|startswith=sha256:"`

	// AllowedOrigins are browser origins accepted by the dashboard.
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`

	// BufferSize is the event queue capacity.
	BufferSize int `yaml:"buffer_size" mapstructure:"buffer_size" validate:"min=1"`

	// BatchSize is the number of events flushed at once.
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size" validate:"min=1"`

	// FlushInterval is the longest an event waits before being flushed.
	FlushInterval string `yaml:"flush_interval" mapstructure:"flush_interval" validate:"duration"`

	// SendTimeout is the longest RecordEvent waits on a full queue.
	SendTimeout string `yaml:"send_timeout" mapstructure:"send_timeout" validate:"duration"`

	// RingSize is the number of recent events kept for /events.
	RingSize int `yaml:"ring_size" mapstructure:"ring_size" validate:"min=1"`

	// EventLog is a JSON-lines file receiving every event. Empty disables it.
	EventLog string `yaml:"event_log" mapstructure:"event_log"`

	// EventDir holds daily rotated JSON-lines event files. Empty disables it.
	EventDir string `yaml:"event_dir" mapstructure:"event_dir"`

	// RetentionDays is how long files in EventDir are kept. 0 selects 7.
	RetentionDays int `yaml:"retention_days" mapstructure:"retention_days" validate:"gte=0"`

	// MaxFileMB rotates an EventDir file at this size. 0 selects 100.
	MaxFileMB int `yaml:"max_file_mb" mapstructure:"max_file_mb" validate:"gte=0"`

	// ForwardURL receives event batches as JSON POSTs. Empty disables it.
	ForwardURL string `yaml:"forward_url" mapstructure:"forward_url" validate:"omitempty,url"`

	// ForwardAttempts is the number of tries per batch.
	ForwardAttempts uint `yaml:"forward_attempts" mapstructure:"forward_attempts" validate:"min=1"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	// Enabled turns on span export.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Output is "stderr" or a file path receiving JSON spans.
	Output string `yaml:"output" mapstructure:"output"`
}

// LoggingConfig configures the diagnostic log.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level" mapstructure:"level" validate:"loglevel"`

	// File mirrors the log to a file (appended).
	File string `yaml:"file" mapstructure:"file"`
}

// ScanConfig configures scan mode.
type ScanConfig struct {
	// Tool is the scanner executable, invoked as "<tool> scan --stdio <cmd>".
	Tool string `yaml:"tool" mapstructure:"tool" validate:"required"`

	// Args are appended after the scanner's target argument.
	Args []string `yaml:"args" mapstructure:"args"`
}

// SetDefaults applies default values to every unset field.
func (c *Config) SetDefaults() {
	if c.Upstream.StopTimeout == "" {
		c.Upstream.StopTimeout = "5s"
	}
	if c.Upstream.DrainTimeout == "" {
		c.Upstream.DrainTimeout = "2s"
	}

	if c.Policy.AgentID == "" {
		c.Policy.AgentID = "claude-desktop"
	}
	if c.Policy.Timeout == "" {
		c.Policy.Timeout = "5s"
	}
	if c.Policy.BreakerCooldown == "" {
		c.Policy.BreakerCooldown = "30s"
	}

	// viper.IsSet distinguishes "not set" from "explicitly false".
	if !viper.IsSet("observer.enabled") {
		c.Observer.Enabled = true
	}
	if c.Observer.Addr == "" {
		c.Observer.Addr = "127.0.0.1:9090"
	}
	if c.Observer.BufferSize == 0 {
		c.Observer.BufferSize = 1000
	}
	if c.Observer.BatchSize == 0 {
		c.Observer.BatchSize = 100
	}
	if c.Observer.FlushInterval == "" {
		c.Observer.FlushInterval = "1s"
	}
	if c.Observer.SendTimeout == "" {
		c.Observer.SendTimeout = "10ms"
	}
	if c.Observer.RingSize == 0 {
		c.Observer.RingSize = 1000
	}
	if c.Observer.ForwardAttempts == 0 {
		c.Observer.ForwardAttempts = 3
	}

	if c.Tracing.Output == "" {
		c.Tracing.Output = "stderr"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Scan.Tool == "" {
		c.Scan.Tool = "mcpwn"
	}
}

// Duration parses a validated duration field. An empty or invalid value
// returns fallback.
func Duration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

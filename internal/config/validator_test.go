package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
)

func minimalValidConfig() *Config {
	viper.Reset()
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	if err := minimalValidConfig().Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestValidate_ZeroConfig(t *testing.T) {
	var cfg Config
	err := cfg.Validate()
	if err == nil {
		t.Fatal("zero config should fail validation")
	}
	if !strings.Contains(err.Error(), "Config.Policy.AgentID is required") {
		t.Errorf("error = %v, want agent_id message", err)
	}
}

func TestValidate_Fields(t *testing.T) {
	policyFile := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(policyFile, []byte("rules: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "log level upper case", mutate: func(c *Config) { c.Logging.Level = "DEBUG" }},
		{name: "bad log level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: "must be one of: debug info warn error"},
		{name: "bad addr", mutate: func(c *Config) { c.Observer.Addr = "localhost" }, wantErr: "valid host:port"},
		{name: "port out of range", mutate: func(c *Config) { c.Observer.Addr = "127.0.0.1:70000" }, wantErr: "valid host:port"},
		{name: "wildcard host", mutate: func(c *Config) { c.Observer.Addr = ":9090" }},
		{name: "bad duration", mutate: func(c *Config) { c.Policy.Timeout = "5 seconds" }, wantErr: "must be a duration"},
		{name: "negative duration", mutate: func(c *Config) { c.Upstream.StopTimeout = "-1s" }, wantErr: "must be a duration"},
		{name: "missing policy file", mutate: func(c *Config) { c.Policy.File = "/nonexistent/policy.yaml" }, wantErr: "must be an existing file"},
		{name: "existing policy file", mutate: func(c *Config) { c.Policy.File = policyFile }},
		{name: "bad forward url", mutate: func(c *Config) { c.Observer.ForwardURL = "not a url" }, wantErr: "valid URL"},
		{name: "argon token hash", mutate: func(c *Config) { c.Observer.TokenHash = "$argon2id$v=19$m=47104,t=1,p=1$abc$def" }},
		{name: "sha token hash", mutate: func(c *Config) { c.Observer.TokenHash = "sha256:abcd" }},
		{name: "plain token", mutate: func(c *Config) { c.Observer.TokenHash = "hunter2" }, wantErr: "argon2id or sha256"},
		{name: "negative frame size", mutate: func(c *Config) { c.Upstream.MaxFrameSize = -1 }, wantErr: "must not be negative"},
		{name: "zero batch", mutate: func(c *Config) { c.Observer.BatchSize = 0 }, wantErr: "must be at least 1"},
		{name: "args without command", mutate: func(c *Config) { c.Upstream.Args = []string{"x"} }, wantErr: "requires upstream.command"},
		{name: "token without observer", mutate: func(c *Config) {
			c.Observer.Enabled = false
			c.Observer.TokenHash = "sha256:abcd"
		}, wantErr: "observer is disabled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := minimalValidConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

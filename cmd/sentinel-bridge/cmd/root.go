// Package cmd provides the CLI commands for sentinel-bridge.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/sentinel-bridge/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "sentinel-bridge",
	Short: "sentinel-bridge - MCP stdio security bridge",
	Long: `sentinel-bridge sits between an MCP client and a single MCP server
process that speaks JSON-RPC over stdio.

Tool calls are checked against a policy before they reach the server and
server responses are scanned for secrets before they reach the client.
Every decision is recorded by a local observer.

Quick start:
  sentinel-bridge start -- npx @modelcontextprotocol/server-filesystem /tmp

Configuration:
  Config is loaded from sentinel-bridge.yaml in the current directory,
  $HOME/.sentinel-bridge/, or /etc/sentinel-bridge/.

  Environment variables can override config values with the SENTINEL_BRIDGE_ prefix.
  Example: SENTINEL_BRIDGE_POLICY_FILE=./policy.yaml

Commands:
  start       Run the bridge in front of an MCP server
  scan        Run the external security scanner against an MCP server
  check       Validate the config and policy file
  hash-token  Generate a token and its hash for the dashboard
  version     Print version information`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// exitError carries a process exit code out of a command. A nil err exits
// silently.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// Execute runs the root command.
func Execute() {
	os.Exit(execute())
}

func execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintln(os.Stderr, "Error:", ee.err)
		}
		return ee.code
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	return 1
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./sentinel-bridge.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}

// loadConfig loads and validates the configuration, letting a command line
// after "--" replace the configured server command.
func loadConfig(args []string) (*config.Config, error) {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if len(args) > 0 {
		cfg.Upstream.Command = args[0]
		cfg.Upstream.Args = args[1:]
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

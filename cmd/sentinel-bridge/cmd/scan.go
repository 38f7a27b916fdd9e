package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/sentinel-bridge/internal/config"
)

var scanCmd = &cobra.Command{
	Use:   "scan [-- command [args...]]",
	Short: "Run the external security scanner against an MCP server",
	Long: `Run the configured scanner (scan.tool, default "mcpwn") against an MCP
server command line instead of bridging it.

The scanner is invoked as:
  <scan.tool> scan --stdio "<command and args joined by spaces>"

It inherits the terminal and runs in upstream.dir. The exit code is the
scanner's, or 1 when it cannot be started.

Example:
  sentinel-bridge scan -- npx @modelcontextprotocol/server-filesystem /tmp`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	if cfg.Upstream.Command == "" {
		return fmt.Errorf("no MCP server command: pass one after -- or set upstream.command")
	}

	code, err := scan(cmd.Context(), cfg, os.Stdin, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if err != nil || code != 0 {
		return &exitError{code: code, err: err}
	}
	return nil
}

// scanArgs builds the scanner argument list for the configured server.
func scanArgs(cfg *config.Config) []string {
	target := strings.Join(append([]string{cfg.Upstream.Command}, cfg.Upstream.Args...), " ")
	args := []string{"scan", "--stdio", target}
	return append(args, cfg.Scan.Args...)
}

// scan runs the scanner to completion and returns its exit code.
func scan(ctx context.Context, cfg *config.Config, stdin io.Reader, stdout, stderr io.Writer) (int, error) {
	c := exec.CommandContext(ctx, cfg.Scan.Tool, scanArgs(cfg)...)
	c.Dir = cfg.Upstream.Dir
	c.Stdin = stdin
	c.Stdout = stdout
	c.Stderr = stderr

	err := c.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code, nil
		}
		return 1, nil
	}
	return 1, fmt.Errorf("failed to run scanner %q: %w", cfg.Scan.Tool, err)
}

package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/sentinel-bridge/internal/config"
	"github.com/Sentinel-Gate/sentinel-bridge/internal/service"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the config and policy file",
	Long: `Load the configuration and build the policy gateway without starting
anything.

Exits 1 when the configuration is invalid and 2 when the policy cannot be
loaded or compiled.`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	gw, err := buildGateway(cmd.Context(), cfg.Policy, slog.New(slog.DiscardHandler))
	if err != nil {
		return &exitError{code: service.ExitGatewayFailure, err: err}
	}

	if file := config.ConfigFileUsed(); file != "" {
		fmt.Fprintf(out, "config: %s\n", file)
	} else {
		fmt.Fprintln(out, "config: defaults")
	}
	if cfg.Policy.File != "" {
		fmt.Fprintf(out, "policy: %s\n", cfg.Policy.File)
	} else {
		fmt.Fprintln(out, "policy: built-in rules")
	}
	fmt.Fprintf(out, "stages: %v\n", gw.Stages())
	fmt.Fprintln(out, "ok")
	return nil
}

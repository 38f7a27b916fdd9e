package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/sentinel-bridge/internal/domain/auth"
)

var hashTokenCmd = &cobra.Command{
	Use:   "hash-token [token]",
	Short: "Generate an argon2id hash for the dashboard token",
	Long: `Generate an argon2id hash of a dashboard token for use in config.

The hash goes in observer.token_hash. Clients then send the token as
"Authorization: Bearer <token>" to read /events.

Without an argument a random token is generated and printed with its hash.

Example:
  sentinel-bridge hash-token
  # token: 3f9a...
  # hash:  $argon2id$v=19$m=48128,t=1,p=1$...

Security note: a token given as an argument will appear in shell history.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		var token string
		if len(args) == 1 {
			token = args[0]
		} else {
			generated, err := auth.GenerateToken()
			if err != nil {
				return err
			}
			token = generated
			fmt.Fprintf(out, "token: %s\n", token)
		}

		hash, err := auth.HashToken(token)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "hash:  %s\n", hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashTokenCmd)
}

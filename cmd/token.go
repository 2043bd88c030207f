package cmd

import (
	"errors"
	"fmt"
	"time"

	"DeckPilot/core/auth"

	"github.com/spf13/cobra"
)

var tokenTTL time.Duration

var tokenCmd = &cobra.Command{
	Use:   "token <operator>",
	Short: "Issue an API token",
	Long:  `Issue a bearer token for the session API, signed with DJ_API_SECRET.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.APISecret == "" {
			return errors.New("DJ_API_SECRET is not set, the API accepts requests without a token")
		}
		ttl := cfg.TokenTTL
		if tokenTTL > 0 {
			ttl = tokenTTL
		}
		token, err := auth.GenerateToken(cfg.APISecret, args[0], ttl)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime, e.g. 12h (default DJ_TOKEN_TTL)")
	rootCmd.AddCommand(tokenCmd)
}

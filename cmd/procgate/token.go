package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"procgate/internal/auth"
)

var (
	tokenAdmin bool
	tokenTTL   time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token <subject>",
	Short: "Mint a bearer token",
	Long: `Mint a bearer token signed with auth.jwt_secret. Client tokens call
functions; admin tokens call the /api/_admin hooks.`,
	Example: `  procgate token web
  procgate token ops --admin --ttl 1h`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		scope := auth.ScopeClient
		if tokenAdmin {
			scope = auth.ScopeAdmin
		}
		ttl := tokenTTL
		if ttl <= 0 {
			ttl = cfg.Auth.TokenTTL()
		}
		token, err := auth.GenerateToken(args[0], scope, cfg.Auth.JWTSecret, ttl)
		if err != nil {
			return fmt.Errorf("sign token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().BoolVar(&tokenAdmin, "admin", false, "mint an admin-scoped token")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (default: auth.token_ttl_seconds)")
}

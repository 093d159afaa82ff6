package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"procgate/internal/config"
)

var (
	// set during PersistentPreRunE
	cfg *config.Config

	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "procgate",
	Short: "Stored procedures as authorized HTTP functions",
	Long: `procgate - stored procedure gateway

procgate exposes admin-declared functions backed by MySQL or PostgreSQL
stored procedures. Each call is authorized per client, validated against
the function's parameter schema, executed with retries and transactions,
and rendered in a stable JSON envelope.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./procgate.yaml or ./config/procgate.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(tokenCmd)
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

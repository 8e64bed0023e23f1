package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/iho/splitledger/internal/infrastructure/config"
)

type options struct {
	baseURL string
	timeout time.Duration
	token   string
}

func main() {
	if err := config.LoadEnvFile(".env"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:          "splitledger-cli",
		Short:        "SplitLedger CLI tool",
		Long:         `A command line interface for recording shared expenses and querying balances through the SplitLedger API.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.baseURL, "url", envOr("SPLITLEDGER_URL", "http://localhost:8080"), "Base URL of the SplitLedger API")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "Request timeout")
	rootCmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("SPLITLEDGER_TOKEN"), "Bearer token sent with every request")

	rootCmd.AddCommand(
		balancesCmd(opts),
		suggestCmd(opts),
		spendingCmd(opts),
		expenseCmd(opts),
		settleCmd(opts),
		entryCmd(opts),
		entriesCmd(opts),
		ledgerCmd(opts),
		migrateCmd(),
		tokenCmd(),
	)

	return rootCmd
}

// requestContext bounds one API call by the --timeout flag.
func requestContext(cmd *cobra.Command, opts *options) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, opts.timeout)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Command escrowctl runs operational tasks against the escrow database.
package main

import (
	"fmt"
	"os"

	"bazaar/internal/config"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	config.LoadEnv()

	rootCmd := &cobra.Command{
		Use:           "escrowctl",
		Short:         "Operational tools for the marketplace escrow service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(syncAccountsCmd())
	rootCmd.AddCommand(ledgerCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

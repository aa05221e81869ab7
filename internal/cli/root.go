package cli

import (
	"fmt"
	"os"

	"github.com/holdfast-sec/holdfast/internal/integrity"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "holdfast",
	Short: "Access control core for multi-tenant agent platforms",
	Long: "Decides workspace and agent access, binds sessions to the security context\n" +
		"they were issued under, and records every decision in a tamper-evident\n" +
		"audit trail. Unknown callers and failing stores are denied, never waved through.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := integrity.Verify(); err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
			os.Exit(78) // EX_CONFIG
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// Package cli defines the autopatch command tree.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "autopatch-api",
	Short: "Patch maintenance orchestration service",
	Long:  `autopatch-api tracks server inventory and drives patch jobs through approval, scheduling and execution.`,
}

// Execute runs the command tree.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

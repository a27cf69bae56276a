package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/autopatch-dev/autopatch/internal/app"
	"github.com/autopatch-dev/autopatch/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server and scheduler",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return app.App(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Printf("autopatch %s (commit %s, built %s)\n", version.Version, version.GitCommit, version.BuildDate)
	},
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version and build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("portabase-agent %s (built %s, commit %s)\n", cfg.Version, cfg.BuildTime, cfg.GitCommit)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Portabase/agent/internal/config"
	"github.com/Portabase/agent/internal/edgekey"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the agent configuration",
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the edge key and the databases config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := edgekey.Decode(cfg.EdgeKey)
		if err != nil {
			return fmt.Errorf("edge key check failed: %w", err)
		}
		fmt.Printf("Edge key OK (agent %s, server %s)\n", key.AgentID, key.ServerURL)

		path := cfg.DatabasesConfigPath()
		databases, err := config.LoadDatabases(path)
		if err != nil {
			if config.IsNotExist(err) {
				fmt.Printf("No databases config at %s (agent manages nothing yet)\n", path)
				return nil
			}
			return fmt.Errorf("databases config check failed: %w", err)
		}

		fmt.Printf("Databases config OK (%d database(s) at %s)\n", len(databases.Databases), path)
		for _, db := range databases.Databases {
			fmt.Printf("  - %s (%s, %s)\n", db.Name, db.Type, db.GeneratedID)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configCheckCmd)
	rootCmd.AddCommand(configCmd)
}

package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Portabase/agent/internal/config"
	"github.com/Portabase/agent/internal/logger"
)

var (
	cfg *config.Config
	log logger.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "portabase-agent",
	Short: "Portabase database backup agent",
	Long: `The Portabase agent runs next to your databases, reports their state
to the Portabase control plane and executes the backup and restore
plans configured there.

Supported engines:
- MySQL / MariaDB (via mysqldump/mysql)
- PostgreSQL (via pg_dump/pg_restore)
- MongoDB (via mongodump/mongorestore)
- SQLite (via sqlite3)

Configuration comes from the environment, most importantly EDGE_KEY,
which identifies this agent against the control plane.

For help with specific commands, use: portabase-agent [command] --help`,
	SilenceUsage: true,
}

// Execute runs the CLI with the given configuration
func Execute(ctx context.Context, c *config.Config, l logger.Logger) error {
	cfg = c
	log = l
	rootCmd.Version = cfg.Version
	return rootCmd.ExecuteContext(ctx)
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Portabase/agent/internal/agent"
	"github.com/Portabase/agent/internal/api"
	"github.com/Portabase/agent/internal/backup"
)

var backupGeneratedID string

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Run a manual backup for one database",
	Long: `Runs one backup immediately and waits for it to finish. The storage
channels and encryption flag come from the control plane, so the
database must be registered there.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		agentCtx, err := agent.NewContext(cfg, log)
		if err != nil {
			return err
		}

		databases, found, err := agentCtx.LoadDatabases()
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("no databases config at %s", cfg.DatabasesConfigPath())
		}

		dbCfg := databases.Find(backupGeneratedID)
		if dbCfg == nil {
			return fmt.Errorf("no database with generated id %s", backupGeneratedID)
		}

		// The status ping resolves this database's storage channels
		result, err := agentCtx.API.AgentStatus(ctx, api.StatusRequest{
			Version: cfg.Version,
			Databases: []api.DatabasePayload{{
				Name:        dbCfg.Name,
				Dbms:        dbCfg.Dbms(),
				GeneratedID: dbCfg.GeneratedID,
			}},
		})
		if err != nil {
			return fmt.Errorf("status ping failed: %w", err)
		}

		var desired *api.DatabaseStatus
		for i := range result.Databases {
			if result.Databases[i].GeneratedID == backupGeneratedID {
				desired = &result.Databases[i]
				break
			}
		}
		if desired == nil {
			return fmt.Errorf("database %s is not registered on the control plane", backupGeneratedID)
		}

		svc := backup.NewService(agentCtx)
		return svc.RunOnce(ctx, backupGeneratedID, databases, backup.MethodManual, desired.Storages, desired.Encrypt)
	},
}

func init() {
	backupCmd.Flags().StringVar(&backupGeneratedID, "id", "", "generated id of the database to back up")
	backupCmd.MarkFlagRequired("id")
	rootCmd.AddCommand(backupCmd)
}

package cmd

import (
	"sync"

	"github.com/spf13/cobra"

	"github.com/Portabase/agent/internal/agent"
	"github.com/Portabase/agent/internal/backup"
	"github.com/Portabase/agent/internal/restore"
	"github.com/Portabase/agent/internal/scheduler"
	"github.com/Portabase/agent/internal/status"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent loops until interrupted",
	Long: `Starts the status reconciler and the task scheduler. The reconciler
reports the local database inventory to the control plane and applies
the desired state it answers with. The scheduler fires the periodic
backup tasks stored in Redis.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		agentCtx, err := agent.NewContext(cfg, log)
		if err != nil {
			return err
		}

		store := scheduler.NewStore(cfg, log)
		defer store.Close()

		backupSvc := backup.NewService(agentCtx)
		restoreSvc := restore.NewService(agentCtx)

		sched := scheduler.New(store, log)
		sched.Register(scheduler.TaskPeriodicBackup, backupSvc.HandlePeriodicTask)

		reconciler := status.NewReconciler(agentCtx, store, restoreSvc)

		log.Info("Agent started",
			"agent_id", agentCtx.Key.AgentID,
			"server", agentCtx.Key.ServerURL,
			"version", cfg.Version,
		)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			reconciler.Run(ctx)
		}()
		go func() {
			defer wg.Done()
			sched.Run(ctx)
		}()
		wg.Wait()

		log.Info("Agent stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

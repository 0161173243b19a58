// Package status keeps the agent and the control plane in sync.
//
// Every interval the reconciler reports the local database inventory,
// then applies the desired state the control plane answers with:
// backup schedules land in the task store and pending restores are
// dispatched immediately.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Portabase/agent/internal/agent"
	"github.com/Portabase/agent/internal/api"
	"github.com/Portabase/agent/internal/config"
	"github.com/Portabase/agent/internal/restore"
	"github.com/Portabase/agent/internal/scheduler"
)

// Reconciler runs the periodic status loop
type Reconciler struct {
	ctx     *agent.Context
	store   *scheduler.Store
	restore *restore.Service
}

// NewReconciler creates the status reconciler
func NewReconciler(ctx *agent.Context, store *scheduler.Store, restoreSvc *restore.Service) *Reconciler {
	return &Reconciler{ctx: ctx, store: store, restore: restoreSvc}
}

// Run reconciles immediately, then on every interval tick until the
// context is canceled
func (r *Reconciler) Run(ctx context.Context) {
	r.ctx.Log.Info("Status reconciler started", "interval", r.ctx.Cfg.StatusInterval)

	r.reconcile(ctx)

	ticker := time.NewTicker(r.ctx.Cfg.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.ctx.Log.Info("Status reconciler stopped")
			return
		case <-ticker.C:
			r.reconcile(ctx)
		}
	}
}

func (r *Reconciler) reconcile(ctx context.Context) {
	if err := r.Reconcile(ctx); err != nil {
		r.ctx.Log.Error("Status reconciliation failed", "error", err)
	}
}

// Reconcile performs one status round trip and applies the response
func (r *Reconciler) Reconcile(ctx context.Context) error {
	databases, found, err := r.ctx.LoadDatabases()
	if err != nil {
		return fmt.Errorf("failed to load databases config: %w", err)
	}
	if !found {
		databases = &config.DatabasesConfig{}
		r.ctx.Log.Debug("No databases config, reporting empty inventory")
	}

	result, err := r.ctx.API.AgentStatus(ctx, r.statusRequest(databases))
	if err != nil {
		return fmt.Errorf("status ping failed: %w", err)
	}

	for _, db := range result.Databases {
		if err := r.applyBackupSchedule(ctx, db); err != nil {
			r.ctx.Log.Error("Failed to apply backup schedule", "generated_id", db.GeneratedID, "error", err)
		}

		if db.Data.Restore.Action && db.Data.Restore.File != nil {
			r.restore.Dispatch(ctx, db, databases)
		}
	}

	return nil
}

func (r *Reconciler) statusRequest(databases *config.DatabasesConfig) api.StatusRequest {
	payload := make([]api.DatabasePayload, 0, len(databases.Databases))
	for _, db := range databases.Databases {
		payload = append(payload, api.DatabasePayload{
			Name:        db.Name,
			Dbms:        db.Dbms(),
			GeneratedID: db.GeneratedID,
		})
	}
	return api.StatusRequest{
		Version:   r.ctx.Cfg.Version,
		Databases: payload,
	}
}

// applyBackupSchedule syncs one database's backup task with the task
// store. No cron or a disabled backup removes the task.
func (r *Reconciler) applyBackupSchedule(ctx context.Context, db api.DatabaseStatus) error {
	name := TaskName(db.GeneratedID)

	cronExpr := db.Data.Backup.Cron
	if !db.Data.Backup.Action {
		cronExpr = nil
	}

	metadata, err := taskMetadata(db)
	if err != nil {
		return err
	}

	desired := scheduler.PeriodicTask{
		Task:     scheduler.TaskPeriodicBackup,
		Args:     []string{db.GeneratedID, db.Dbms},
		Enabled:  true,
		Metadata: metadata,
	}

	return r.store.Reconcile(ctx, name, desired, cronExpr)
}

// TaskName builds the schedule entry name for one database
func TaskName(generatedID string) string {
	return "periodic.backup_" + generatedID
}

// taskMetadata renders the storages and encryption flag in the generic
// form the task store round-trips, so change detection stays stable
func taskMetadata(db api.DatabaseStatus) (map[string]any, error) {
	raw, err := json.Marshal(map[string]any{
		"storages": db.Storages,
		"encrypt":  db.Encrypt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode task metadata: %w", err)
	}

	var metadata map[string]any
	if err := json.Unmarshal(raw, &metadata); err != nil {
		return nil, fmt.Errorf("failed to normalize task metadata: %w", err)
	}
	return metadata, nil
}

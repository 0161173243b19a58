package backup

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Portabase/agent/internal/api"
	"github.com/Portabase/agent/internal/scheduler"
)

// HandlePeriodicTask runs a scheduled backup task. It reloads the
// databases config on every run so config edits take effect without a
// restart.
func (s *Service) HandlePeriodicTask(ctx context.Context, task scheduler.PeriodicTask) error {
	if len(task.Args) < 1 {
		return fmt.Errorf("periodic backup task missing generated id argument")
	}
	generatedID := task.Args[0]

	databases, found, err := s.ctx.LoadDatabases()
	if err != nil {
		return fmt.Errorf("failed to load databases config: %w", err)
	}
	if !found {
		return fmt.Errorf("no databases config, cannot run scheduled backup for %s", generatedID)
	}

	storages, encrypt, err := decodeTaskMetadata(task.Metadata)
	if err != nil {
		return err
	}

	s.Dispatch(ctx, generatedID, databases, MethodAutomatic, storages, encrypt)
	return nil
}

// decodeTaskMetadata recovers the storage channels and encryption flag
// persisted with the task
func decodeTaskMetadata(metadata map[string]any) ([]api.DatabaseStorage, bool, error) {
	if metadata == nil {
		return nil, false, fmt.Errorf("periodic backup task missing metadata")
	}

	rawStorages, ok := metadata["storages"]
	if !ok {
		return nil, false, fmt.Errorf("periodic backup task metadata missing storages")
	}

	data, err := json.Marshal(rawStorages)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode storages metadata: %w", err)
	}

	var storages []api.DatabaseStorage
	if err := json.Unmarshal(data, &storages); err != nil {
		return nil, false, fmt.Errorf("failed to decode storages metadata: %w", err)
	}

	encrypt, _ := metadata["encrypt"].(bool)
	return storages, encrypt, nil
}

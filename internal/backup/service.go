// Package backup runs the full backup pipeline: dump, compress,
// fan out to storage channels, and report results upstream.
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/Portabase/agent/internal/agent"
	"github.com/Portabase/agent/internal/api"
	"github.com/Portabase/agent/internal/archive"
	"github.com/Portabase/agent/internal/config"
	"github.com/Portabase/agent/internal/database"
	"github.com/Portabase/agent/internal/logger"
	"github.com/Portabase/agent/internal/storage"
)

// Backup outcome values reported to the control plane
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Trigger methods reported to the control plane
const (
	MethodAutomatic = "automatic"
	MethodManual    = "manual"
)

// Service orchestrates backup runs for the databases this agent manages
type Service struct {
	ctx   *agent.Context
	locks *lockTable

	// injection points for tests
	newDriver   func(config.DatabaseConfig, logger.Logger) (database.Database, error)
	providerFor func(name string) storage.Provider
}

// NewService creates the backup service
func NewService(ctx *agent.Context) *Service {
	s := &Service{
		ctx:       ctx,
		locks:     newLockTable(),
		newDriver: database.New,
	}
	s.providerFor = func(name string) storage.Provider {
		return storage.ForProvider(name, ctx.Key.ServerURL, ctx.Log)
	}
	return s
}

// Dispatch starts a backup run in the background. A generated id with
// no matching database config is a no-op, the reconciler may simply be
// ahead of the local config file.
func (s *Service) Dispatch(ctx context.Context, generatedID string, databases *config.DatabasesConfig, method string, storages []api.DatabaseStorage, encrypt bool) {
	dbCfg := databases.Find(generatedID)
	if dbCfg == nil {
		s.ctx.Log.Warn("No database config for backup request", "generated_id", generatedID)
		return
	}

	cfg := *dbCfg
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.ctx.Log.Error("Backup run panicked", "generated_id", cfg.GeneratedID, "panic", r)
			}
		}()
		s.execute(ctx, cfg, method, storages, encrypt)
	}()
}

// RunOnce performs a backup synchronously. The manual CLI path uses it
// so the process stays alive until the run finishes.
func (s *Service) RunOnce(ctx context.Context, generatedID string, databases *config.DatabasesConfig, method string, storages []api.DatabaseStorage, encrypt bool) error {
	dbCfg := databases.Find(generatedID)
	if dbCfg == nil {
		return fmt.Errorf("no database with generated id %s", generatedID)
	}

	s.execute(ctx, *dbCfg, method, storages, encrypt)
	return nil
}

// runResult is the outcome of the dump stage
type runResult struct {
	status     string
	backupFile string
	inProgress bool
}

// uploadOutcome is the outcome of one storage channel upload
type uploadOutcome struct {
	success   bool
	size      int64
	sizeKnown bool
}

// execute drives one backup run end to end
func (s *Service) execute(ctx context.Context, dbCfg config.DatabaseConfig, method string, storages []api.DatabaseStorage, encrypt bool) {
	log := s.ctx.Log
	generatedID := dbCfg.GeneratedID

	release, ok := s.locks.TryAcquire(generatedID)
	if !ok {
		log.Error("Backup already running", "generated_id", generatedID)
		return
	}
	defer release()

	tempDir, err := os.MkdirTemp("", "portabase-backup-*")
	if err != nil {
		log.Error("Failed to create temp directory", "error", err)
		return
	}
	defer os.RemoveAll(tempDir)

	created, err := s.ctx.API.BackupCreate(ctx, api.BackupCreateRequest{
		Method:      method,
		GeneratedID: generatedID,
	})
	if err != nil {
		log.Error("Backup creation failed", "generated_id", generatedID, "error", err)
		return
	}
	backupID := created.Backup.ID

	op := log.StartOperation("backup " + dbCfg.Name)

	result := s.run(ctx, dbCfg, tempDir)
	if result.status != StatusSuccess {
		if result.inProgress {
			op.Fail("Backup refused, another dump holds the database", "generated_id", generatedID)
		} else {
			op.Fail("Backup dump failed", "generated_id", generatedID)
		}
		s.sendResult(ctx, backupID, generatedID, StatusFailed, 0)
		return
	}

	archivePath, err := archive.Compress(result.backupFile)
	if err != nil {
		op.Fail("Failed to compress dump", "generated_id", generatedID, "error", err)
		s.sendResult(ctx, backupID, generatedID, StatusFailed, 0)
		return
	}

	outcomes := s.upload(ctx, backupID, generatedID, archivePath, method, storages, encrypt)

	status := StatusFailed
	for _, o := range outcomes {
		if o.success {
			status = StatusSuccess
			break
		}
	}

	var sum, count int64
	for _, o := range outcomes {
		if o.sizeKnown {
			sum += o.size
			count++
		}
	}
	var size int64
	if count > 0 {
		size = sum / count
	}

	s.sendResult(ctx, backupID, generatedID, status, size)

	if status == StatusSuccess {
		op.Complete("Backup finished", "generated_id", generatedID, "size", size)
	} else {
		op.Fail("All uploads failed", "generated_id", generatedID)
	}
}

// run pings the database and produces the dump file
func (s *Service) run(ctx context.Context, dbCfg config.DatabaseConfig, tempDir string) runResult {
	driver, err := s.newDriver(dbCfg, s.ctx.Log)
	if err != nil {
		s.ctx.Log.Error("Failed to create database driver", "database", dbCfg.Name, "error", err)
		return runResult{status: StatusFailed}
	}

	if !driver.Ping(ctx) {
		s.ctx.Log.Error("Database unreachable", "database", dbCfg.Name)
		return runResult{status: StatusFailed}
	}

	file, err := driver.Backup(ctx, tempDir)
	if err != nil {
		if errors.Is(err, database.ErrBackupInProgress) {
			return runResult{status: StatusFailed, inProgress: true}
		}
		s.ctx.Log.Error("Dump failed", "database", dbCfg.Name, "error", err)
		return runResult{status: StatusFailed}
	}

	return runResult{status: StatusSuccess, backupFile: file}
}

// upload fans the archive out to every storage channel concurrently.
// Every channel reports its outcome upstream, including failures, so
// the control plane never shows an upload stuck in limbo.
func (s *Service) upload(ctx context.Context, backupID, generatedID, archivePath, method string, storages []api.DatabaseStorage, encrypt bool) []uploadOutcome {
	outcomes := make([]uploadOutcome, len(storages))

	var wg sync.WaitGroup
	for i, channel := range storages {
		wg.Add(1)
		go func(i int, channel api.DatabaseStorage) {
			defer wg.Done()
			outcomes[i] = s.uploadOne(ctx, backupID, generatedID, archivePath, method, channel, encrypt)
		}(i, channel)
	}
	wg.Wait()

	return outcomes
}

func (s *Service) uploadOne(ctx context.Context, backupID, generatedID, archivePath, method string, channel api.DatabaseStorage, encrypt bool) uploadOutcome {
	log := s.ctx.Log

	init, err := s.ctx.API.BackupUploadInit(ctx, api.UploadInitRequest{
		GeneratedID:      generatedID,
		StorageChannelID: channel.ID,
		BackupID:         backupID,
	})
	if err != nil {
		log.Error("Upload init failed", "storage_id", channel.ID, "error", err)
		return uploadOutcome{}
	}

	statusReq := api.UploadStatusRequest{
		GeneratedID:     generatedID,
		BackupStorageID: init.BackupStorage.ID,
		BackupID:        backupID,
		Status:          StatusFailed,
	}
	outcome := uploadOutcome{}

	provider := s.providerFor(channel.Provider)
	if provider == nil {
		log.Error("Unknown storage provider", "provider", channel.Provider, "storage_id", channel.ID)
	} else {
		result, uploadErr := provider.Upload(ctx, channel, storage.UploadRequest{
			Archive:      archivePath,
			GeneratedID:  generatedID,
			Status:       StatusSuccess,
			Method:       method,
			Encrypt:      encrypt,
			MasterKeyB64: s.ctx.Key.MasterKeyB64,
		})
		if uploadErr != nil {
			log.Error("Upload failed", "provider", provider.Name(), "storage_id", channel.ID, "error", uploadErr)
		} else {
			statusReq.Status = StatusSuccess
			statusReq.Path = result.RemotePath
			statusReq.Size = result.Size
			outcome = uploadOutcome{success: true, size: result.Size, sizeKnown: true}
		}
	}

	if err := s.ctx.API.BackupUploadStatus(ctx, statusReq); err != nil {
		log.Error("Upload status report failed", "storage_id", channel.ID, "error", err)
		return uploadOutcome{}
	}

	return outcome
}

func (s *Service) sendResult(ctx context.Context, backupID, generatedID, status string, size int64) {
	err := s.ctx.API.BackupUpdate(ctx, api.BackupUpdateRequest{
		BackupID:    backupID,
		GeneratedID: generatedID,
		Status:      status,
		Size:        size,
	})
	if err != nil {
		s.ctx.Log.Error("Failed to report backup result", "backup_id", backupID, "error", err)
	}
}

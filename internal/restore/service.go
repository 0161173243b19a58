// Package restore downloads a backup artifact, unwraps it and loads it
// back into the target database.
package restore

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/Portabase/agent/internal/agent"
	"github.com/Portabase/agent/internal/api"
	"github.com/Portabase/agent/internal/archive"
	"github.com/Portabase/agent/internal/config"
	"github.com/Portabase/agent/internal/crypto"
	"github.com/Portabase/agent/internal/database"
	"github.com/Portabase/agent/internal/logger"
)

// Restore outcome values reported to the control plane
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Service orchestrates restore runs
type Service struct {
	ctx *agent.Context

	// injection point for tests
	newDriver func(config.DatabaseConfig, logger.Logger) (database.Database, error)
}

// NewService creates the restore service
func NewService(ctx *agent.Context) *Service {
	return &Service{ctx: ctx, newDriver: database.New}
}

// Dispatch starts a restore run in the background for one database's
// pending restore directive
func (s *Service) Dispatch(ctx context.Context, db api.DatabaseStatus, databases *config.DatabasesConfig) {
	dbCfg := databases.Find(db.GeneratedID)
	if dbCfg == nil {
		s.ctx.Log.Warn("No database config for restore request", "generated_id", db.GeneratedID)
		return
	}
	if db.Data.Restore.File == nil || *db.Data.Restore.File == "" {
		s.ctx.Log.Error("Restore requested without a file", "generated_id", db.GeneratedID)
		return
	}

	cfg := *dbCfg
	fileURL := *db.Data.Restore.File
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.ctx.Log.Error("Restore run panicked", "generated_id", cfg.GeneratedID, "panic", r)
			}
		}()
		status := s.execute(ctx, cfg, fileURL)
		s.sendResult(ctx, cfg.GeneratedID, status)
	}()
}

// execute drives one restore run and returns its outcome status
func (s *Service) execute(ctx context.Context, dbCfg config.DatabaseConfig, fileURL string) string {
	log := s.ctx.Log
	op := log.StartOperation("restore " + dbCfg.Name)

	tempDir, err := os.MkdirTemp("", "portabase-restore-*")
	if err != nil {
		op.Fail("Failed to create temp directory", "error", err)
		return StatusFailed
	}
	defer os.RemoveAll(tempDir)

	downloaded, err := s.download(ctx, fileURL, tempDir)
	if err != nil {
		op.Fail("Backup download failed", "error", err)
		return StatusFailed
	}

	payload, err := s.unwrap(downloaded, tempDir)
	if err != nil {
		op.Fail("Failed to unwrap backup artifact", "file", filepath.Base(downloaded), "error", err)
		return StatusFailed
	}

	driver, err := s.newDriver(dbCfg, log)
	if err != nil {
		op.Fail("Failed to create database driver", "error", err)
		return StatusFailed
	}

	if !driver.Ping(ctx) {
		op.Fail("Database unreachable", "database", dbCfg.Name)
		return StatusFailed
	}

	if err := driver.Restore(ctx, payload); err != nil {
		op.Fail("Restore failed", "database", dbCfg.Name, "error", err)
		return StatusFailed
	}

	op.Complete("Restore finished", "database", dbCfg.Name)
	return StatusSuccess
}

// download fetches the artifact and names it from the response's
// Content-Disposition, the URL's last path segment, or a fallback
func (s *Service) download(ctx context.Context, fileURL, tempDir string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid file URL: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("download returned status %d", resp.StatusCode)
	}

	name := fileName(resp.Header.Get("Content-Disposition"), fileURL)
	target := filepath.Join(tempDir, name)

	out, err := os.Create(target)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", target, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return "", fmt.Errorf("failed to write download: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("failed to close download: %w", err)
	}

	s.ctx.Log.Info("Backup downloaded", "file", name)
	return target, nil
}

// unwrap turns the downloaded artifact into the file handed to the
// database driver. Plain dumps pass through, archives are unpacked and
// encrypted archives are decrypted first.
func (s *Service) unwrap(downloaded, tempDir string) (string, error) {
	name := filepath.Base(downloaded)

	switch {
	case strings.HasSuffix(name, ".sql"), strings.HasSuffix(name, ".dump"):
		// Legacy plain dump, restore it as-is
		return downloaded, nil

	case strings.HasSuffix(name, ".tar.gz"):
		return s.extract(downloaded, tempDir)

	case strings.HasSuffix(name, ".tar.gz.enc"):
		key, err := s.ctx.Key.MasterKey()
		if err != nil {
			return "", err
		}

		decrypted := filepath.Join(tempDir, strings.TrimSuffix(name, ".enc"))
		if err := crypto.DecryptFile(downloaded, decrypted, key); err != nil {
			return "", err
		}
		return s.extract(decrypted, tempDir)

	default:
		return "", fmt.Errorf("unrecognized backup artifact: %s", name)
	}
}

// extract unpacks the archive. A single extracted file is the payload,
// anything else hands the archive itself to the driver.
func (s *Service) extract(archivePath, tempDir string) (string, error) {
	files, err := archive.Decompress(archivePath, tempDir)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", fmt.Errorf("archive contains no files")
	}
	if len(files) == 1 {
		return files[0], nil
	}
	return archivePath, nil
}

func (s *Service) sendResult(ctx context.Context, generatedID, status string) {
	err := s.ctx.API.RestoreResult(ctx, api.RestoreResultRequest{
		GeneratedID: generatedID,
		Status:      status,
	})
	if err != nil {
		s.ctx.Log.Error("Failed to report restore result", "generated_id", generatedID, "error", err)
	}
}

// fileName derives the artifact's local name
func fileName(contentDisposition, fileURL string) string {
	if contentDisposition != "" {
		if _, params, err := mime.ParseMediaType(contentDisposition); err == nil {
			if name := params["filename"]; name != "" {
				return filepath.Base(name)
			}
		}
	}

	if u, err := url.Parse(fileURL); err == nil {
		segments := strings.Split(strings.Trim(u.Path, "/"), "/")
		if last := segments[len(segments)-1]; last != "" {
			return filepath.Base(last)
		}
	}

	return "downloaded_file"
}

package database

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/Portabase/agent/internal/config"
	"github.com/Portabase/agent/internal/logger"
)

// SQLite drives file-backed SQLite databases through the sqlite3 CLI.
// The database file must be readable from the agent's filesystem.
type SQLite struct {
	cfg config.DatabaseConfig
	log logger.Logger
}

func (s *SQLite) Ping(ctx context.Context) bool {
	if _, err := os.Stat(s.cfg.Path); err != nil {
		s.log.Debug("SQLite file not accessible", "database", s.cfg.Name, "path", s.cfg.Path, "error", err)
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sqlite3", s.cfg.Path, "SELECT 1;")
	if err := cmd.Run(); err != nil {
		s.log.Debug("SQLite ping failed", "database", s.cfg.Name, "error", err)
		return false
	}
	return true
}

func (s *SQLite) Backup(ctx context.Context, dir string) (string, error) {
	outFile := filepath.Join(dir, s.cfg.GeneratedID+".sqlite")

	// .backup uses the online backup API, so readers stay unaffected
	cmd := exec.CommandContext(ctx, "sqlite3", s.cfg.Path,
		fmt.Sprintf(".backup '%s'", outFile))

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if strings.Contains(msg, "database is locked") {
			return "", ErrBackupInProgress
		}
		return "", fmt.Errorf("sqlite3 backup failed: %w: %s", err, msg)
	}
	return outFile, nil
}

func (s *SQLite) Restore(ctx context.Context, file string) error {
	cmd := exec.CommandContext(ctx, "sqlite3", s.cfg.Path,
		fmt.Sprintf(".restore '%s'", file))

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("sqlite3 restore failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

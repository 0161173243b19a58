package database

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Portabase/agent/internal/config"
	"github.com/Portabase/agent/internal/logger"
)

// Postgres drives PostgreSQL servers through the libpq client tools
type Postgres struct {
	cfg config.DatabaseConfig
	log logger.Logger
}

func (p *Postgres) Ping(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "pg_isready",
		"-h", p.cfg.Host,
		"-p", strconv.Itoa(p.cfg.Port),
		"-U", p.cfg.Username,
		"-d", p.cfg.Database,
	)
	cmd.Env = p.env()

	if err := cmd.Run(); err != nil {
		p.log.Debug("PostgreSQL ping failed", "database", p.cfg.Name, "error", err)
		return false
	}
	return true
}

func (p *Postgres) Backup(ctx context.Context, dir string) (string, error) {
	outFile := filepath.Join(dir, p.cfg.GeneratedID+".dump")

	// Custom format keeps the dump compact and restorable with pg_restore
	cmd := exec.CommandContext(ctx, "pg_dump",
		"-h", p.cfg.Host,
		"-p", strconv.Itoa(p.cfg.Port),
		"-U", p.cfg.Username,
		"-d", p.cfg.Database,
		"-Fc",
		"-f", outFile,
	)
	cmd.Env = p.env()

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("pg_dump failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return outFile, nil
}

func (p *Postgres) Restore(ctx context.Context, file string) error {
	if strings.HasSuffix(file, ".sql") {
		return p.restorePlain(ctx, file)
	}

	cmd := exec.CommandContext(ctx, "pg_restore",
		"-h", p.cfg.Host,
		"-p", strconv.Itoa(p.cfg.Port),
		"-U", p.cfg.Username,
		"-d", p.cfg.Database,
		"--clean",
		"--if-exists",
		file,
	)
	cmd.Env = p.env()

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("pg_restore failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// restorePlain replays a plain SQL dump through psql
func (p *Postgres) restorePlain(ctx context.Context, file string) error {
	dump, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("failed to open dump file: %w", err)
	}
	defer dump.Close()

	cmd := exec.CommandContext(ctx, "psql",
		"-h", p.cfg.Host,
		"-p", strconv.Itoa(p.cfg.Port),
		"-U", p.cfg.Username,
		"-d", p.cfg.Database,
	)
	cmd.Env = p.env()
	cmd.Stdin = dump

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("psql restore failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func (p *Postgres) env() []string {
	return append(os.Environ(), "PGPASSWORD="+p.cfg.Password)
}

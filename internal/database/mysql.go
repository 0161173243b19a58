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

// MySQL drives MySQL and MariaDB servers through the mysql client tools
type MySQL struct {
	cfg config.DatabaseConfig
	log logger.Logger
}

func (m *MySQL) Ping(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "mysqladmin",
		"ping",
		"-h", m.cfg.Host,
		"-P", strconv.Itoa(m.cfg.Port),
		"-u", m.cfg.Username,
		"--silent",
	)
	cmd.Env = m.env()

	if err := cmd.Run(); err != nil {
		m.log.Debug("MySQL ping failed", "database", m.cfg.Name, "error", err)
		return false
	}
	return true
}

func (m *MySQL) Backup(ctx context.Context, dir string) (string, error) {
	outFile := filepath.Join(dir, m.cfg.GeneratedID+".sql")

	if version, err := m.serverVersion(ctx); err == nil {
		m.log.Debug("MySQL server version", "database", m.cfg.Name, "version", version)
	}

	cmd := exec.CommandContext(ctx, "mysqldump",
		"-h", m.cfg.Host,
		"-P", strconv.Itoa(m.cfg.Port),
		"-u", m.cfg.Username,
		"--routines",
		"--events",
		"--triggers",
		"--single-transaction",
		"--quick",
		"--add-drop-database",
		"--databases", m.cfg.Database,
		"-r", outFile,
	)
	cmd.Env = m.env()

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("mysqldump failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return outFile, nil
}

func (m *MySQL) Restore(ctx context.Context, file string) error {
	dump, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("failed to open dump file: %w", err)
	}
	defer dump.Close()

	cmd := exec.CommandContext(ctx, "mysql",
		"-h", m.cfg.Host,
		"-P", strconv.Itoa(m.cfg.Port),
		"-u", m.cfg.Username,
	)
	cmd.Env = m.env()
	cmd.Stdin = dump

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("mysql restore failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// serverVersion probes the running server, mainly for diagnostics
func (m *MySQL) serverVersion(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, "mysql",
		"-h", m.cfg.Host,
		"-P", strconv.Itoa(m.cfg.Port),
		"-u", m.cfg.Username,
		"-N", "-B",
		"-e", "SELECT VERSION()",
	)
	cmd.Env = m.env()

	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("version probe failed: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// env passes the password out-of-argv so it never shows up in process lists
func (m *MySQL) env() []string {
	return append(os.Environ(), "MYSQL_PWD="+m.cfg.Password)
}

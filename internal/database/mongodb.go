package database

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Portabase/agent/internal/config"
	"github.com/Portabase/agent/internal/logger"
)

// MongoDB drives MongoDB servers through the mongo database tools
type MongoDB struct {
	cfg config.DatabaseConfig
	log logger.Logger
}

func (m *MongoDB) Ping(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "mongosh",
		m.uri(),
		"--quiet",
		"--eval", "db.runCommand({ ping: 1 })",
	)

	if err := cmd.Run(); err != nil {
		m.log.Debug("MongoDB ping failed", "database", m.cfg.Name, "error", err)
		return false
	}
	return true
}

func (m *MongoDB) Backup(ctx context.Context, dir string) (string, error) {
	outFile := filepath.Join(dir, m.cfg.GeneratedID+".dump")

	cmd := exec.CommandContext(ctx, "mongodump",
		"--uri", m.uri(),
		"--archive="+outFile,
		"--gzip",
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("mongodump failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return outFile, nil
}

func (m *MongoDB) Restore(ctx context.Context, file string) error {
	cmd := exec.CommandContext(ctx, "mongorestore",
		"--uri", m.uri(),
		"--archive="+file,
		"--gzip",
		"--drop",
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("mongorestore failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// uri builds the connection string, with credentials only when configured
func (m *MongoDB) uri() string {
	hostPort := m.cfg.Host + ":" + strconv.Itoa(m.cfg.Port)
	if m.cfg.Username == "" {
		return fmt.Sprintf("mongodb://%s/%s", hostPort, m.cfg.Database)
	}
	return fmt.Sprintf("mongodb://%s:%s@%s/%s?authSource=admin",
		url.QueryEscape(m.cfg.Username),
		url.QueryEscape(m.cfg.Password),
		hostPort,
		m.cfg.Database,
	)
}

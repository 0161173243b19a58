// Package database drives the DBMS-native dump and restore tools.
//
// Every engine is exercised through its own command line client, so the
// binaries (mysqldump, pg_dump, mongodump, sqlite3, ...) must be present
// on the host running the agent.
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Portabase/agent/internal/config"
	"github.com/Portabase/agent/internal/logger"
)

// ErrBackupInProgress means the engine refused a dump because another
// backup already holds the database.
var ErrBackupInProgress = errors.New("backup_already_in_progress")

// pingTimeout bounds the reachability probe for every engine
const pingTimeout = 10 * time.Second

// Database is one managed database instance
type Database interface {
	// Ping reports whether the database is reachable
	Ping(ctx context.Context) bool

	// Backup dumps the database into dir and returns the dump file path.
	// The file is named after the database's generated id.
	Backup(ctx context.Context, dir string) (string, error)

	// Restore loads the given dump file back into the database
	Restore(ctx context.Context, file string) error
}

// New creates the driver matching the configured database type
func New(cfg config.DatabaseConfig, log logger.Logger) (Database, error) {
	switch cfg.Type {
	case config.TypeMySQL, config.TypeMariaDB:
		return &MySQL{cfg: cfg, log: log}, nil
	case config.TypePostgreSQL:
		return &Postgres{cfg: cfg, log: log}, nil
	case config.TypeMongoDB:
		return &MongoDB{cfg: cfg, log: log}, nil
	case config.TypeSQLite:
		return &SQLite{cfg: cfg, log: log}, nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
}

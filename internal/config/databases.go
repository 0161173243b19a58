package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"
)

// Supported database types
const (
	TypeMySQL      = "mysql"
	TypeMariaDB    = "mariadb"
	TypePostgreSQL = "postgresql"
	TypeMongoDB    = "mongodb"
	TypeSQLite     = "sqlite"
)

// DatabaseConfig describes one database instance the agent manages
type DatabaseConfig struct {
	Name        string `json:"name" toml:"name"`
	Type        string `json:"type" toml:"type"`
	GeneratedID string `json:"generated_id" toml:"generated_id"`
	Host        string `json:"host" toml:"host"`
	Port        int    `json:"port" toml:"port"`
	Username    string `json:"username" toml:"username"`
	Password    string `json:"password" toml:"password"`
	Database    string `json:"database" toml:"database"`
	Path        string `json:"path" toml:"path"`
}

// DatabasesConfig is the parsed databases config file
type DatabasesConfig struct {
	Databases []DatabaseConfig `json:"databases" toml:"databases"`
}

// Find returns the database config with the given generated id, or nil
func (c *DatabasesConfig) Find(generatedID string) *DatabaseConfig {
	for i := range c.Databases {
		if c.Databases[i].GeneratedID == generatedID {
			return &c.Databases[i]
		}
	}
	return nil
}

// Dbms returns the engine name reported to the control plane.
// MariaDB is wire-compatible with MySQL and reported as such.
func (d *DatabaseConfig) Dbms() string {
	if d.Type == TypeMariaDB {
		return TypeMySQL
	}
	return d.Type
}

// LoadDatabases reads and validates the databases config file.
// The format is chosen by extension: .toml or .json.
func LoadDatabases(path string) (*DatabasesConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read databases config %s: %w", path, err)
	}

	var cfg DatabasesConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse TOML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format %q (use .toml or .json)", filepath.Ext(path))
	}

	for i := range cfg.Databases {
		if err := cfg.Databases[i].validate(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// IsNotExist reports whether err means the config file is absent
func IsNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}

func (d *DatabaseConfig) validate() error {
	if _, err := uuid.Parse(d.GeneratedID); err != nil {
		return fmt.Errorf("invalid generated_id for database %q: %w", d.Name, err)
	}

	switch d.Type {
	case TypeMySQL, TypeMariaDB, TypePostgreSQL:
		return d.require(map[string]string{
			"host":     d.Host,
			"username": d.Username,
			"password": d.Password,
			"database": d.Database,
		}, d.Port)
	case TypeMongoDB:
		return d.require(map[string]string{
			"host":     d.Host,
			"database": d.Database,
		}, d.Port)
	case TypeSQLite:
		if d.Path == "" {
			return fmt.Errorf("missing required field 'path' for database %q", d.Name)
		}
		return nil
	default:
		return fmt.Errorf("unsupported database type %q for database %q", d.Type, d.Name)
	}
}

func (d *DatabaseConfig) require(fields map[string]string, port int) error {
	for name, value := range fields {
		if value == "" {
			return fmt.Errorf("missing required field %q for database %q", name, d.Name)
		}
	}
	if port == 0 {
		return fmt.Errorf("missing required field \"port\" for database %q", d.Name)
	}
	return nil
}

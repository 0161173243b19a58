package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all agent configuration options
type Config struct {
	// Version information
	Version   string
	BuildTime string
	GitCommit string

	// Agent identity (decoded further by the edgekey package)
	EdgeKey string

	// Local paths
	DataPath            string
	DatabasesConfigFile string

	// Task store connection
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Reconciler
	StatusInterval time.Duration

	// Output options
	LogLevel  string
	LogFormat string
	LogFile   string
}

// New creates a new configuration from the environment with default values
func New() *Config {
	return &Config{
		EdgeKey: getEnvString("EDGE_KEY", ""),

		DataPath:            getEnvString("DATA_PATH", defaultDataPath()),
		DatabasesConfigFile: getEnvString("DATABASES_CONFIG_FILE", "databases.toml"),

		RedisAddr:     getEnvString("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnvString("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		StatusInterval: time.Duration(getEnvInt("STATUS_INTERVAL", 60)) * time.Second,

		LogLevel:  getEnvString("LOG_LEVEL", "info"),
		LogFormat: getEnvString("LOG_FORMAT", "text"),
		LogFile:   getEnvString("LOG_FILE", ""),
	}
}

// DatabasesConfigPath returns the full path of the databases config file
func (c *Config) DatabasesConfigPath() string {
	if filepath.IsAbs(c.DatabasesConfigFile) {
		return c.DatabasesConfigFile
	}
	return filepath.Join(c.DataPath, c.DatabasesConfigFile)
}

func defaultDataPath() string {
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".portabase")
	}
	return "/var/lib/portabase"
}

// Helper functions
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

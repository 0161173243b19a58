// Package agent wires the shared runtime dependencies of all services.
package agent

import (
	"fmt"

	"github.com/Portabase/agent/internal/api"
	"github.com/Portabase/agent/internal/config"
	"github.com/Portabase/agent/internal/edgekey"
	"github.com/Portabase/agent/internal/logger"
)

// Context carries the dependencies shared by every agent service
type Context struct {
	Cfg *config.Config
	Key edgekey.EdgeKey
	API *api.Client
	Log logger.Logger
}

// NewContext decodes the edge key and builds the shared runtime context.
// An invalid edge key is fatal: the agent cannot identify itself without one.
func NewContext(cfg *config.Config, log logger.Logger) (*Context, error) {
	key, err := edgekey.Decode(cfg.EdgeKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode edge key: %w", err)
	}

	return &Context{
		Cfg: cfg,
		Key: key,
		API: api.NewClient(key.ServerURL, key.AgentID),
		Log: log,
	}, nil
}

// LoadDatabases reads the configured databases file.
// A missing file is not an error: the agent simply manages nothing yet.
func (c *Context) LoadDatabases() (*config.DatabasesConfig, bool, error) {
	path := c.Cfg.DatabasesConfigPath()
	cfg, err := config.LoadDatabases(path)
	if err != nil {
		if config.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return cfg, true, nil
}

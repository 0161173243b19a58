package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Portabase/agent/cmd"
	"github.com/Portabase/agent/internal/config"
	"github.com/Portabase/agent/internal/logger"
)

// Build information (set by ldflags)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	// Create context that cancels on interrupt
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg := config.New()
	cfg.Version = version
	cfg.BuildTime = buildTime
	cfg.GitCommit = gitCommit

	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	if cfg.LogFile != "" {
		fileLog, err := logger.FileLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
		if err != nil {
			log.Error("Failed to open log file, logging to stdout only", "file", cfg.LogFile, "error", err)
		} else {
			log = fileLog
		}
	}

	if err := cmd.Execute(ctx, cfg, log); err != nil {
		log.Error("Agent failed", "error", err)
		os.Exit(1)
	}
}
